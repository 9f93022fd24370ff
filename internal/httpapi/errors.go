package httpapi

import (
	"encoding/json"
	"net/http"

	"stripd/internal/provision"
	"stripd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps a synchronous service error to an HTTP status code.
// Asynchronous job failures are reported through the job status instead.
func statusFor(err error) int {
	if provision.IsUnavailable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
