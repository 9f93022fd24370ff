// Package httpapi is the HTTP presentation layer: job submission and
// polling over JSON, accelerator listing, health and metrics. All heavy
// lifting lives in the extract service; handlers translate between the wire
// types and ExecutionRequest.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stripd/internal/device"
	"stripd/internal/extract"
	"stripd/internal/volume"
	"stripd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Submit(req extract.ExecutionRequest) *extract.Job
	Devices(ctx context.Context) device.Snapshot
	Provision(ctx context.Context, sink types.ProgressSink) error
}

func NewMux(svc Service) http.Handler {
	jobs := newRegistry()

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if opts := corsOptions(); opts != nil {
		r.Use(cors.Handler(*opts))
	}
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/v1/extract", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeExtractRequest(w, r)
		if !ok {
			return
		}
		dev, err := types.ParseDeviceSpec(req.Device)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.OutputVolumePath == "" && req.OutputSegmentationPath == "" {
			writeJSONError(w, http.StatusBadRequest, "at least one output path is required")
			return
		}
		// Read the input up front so a bad path fails the request, not the job.
		in, err := volume.ReadNIfTI(req.InputPath)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "input volume: "+err.Error())
			return
		}

		exec := extract.ExecutionRequest{Input: in, Device: dev}
		var volDst *volume.Volume
		var segDst *volume.Segmentation
		if req.OutputVolumePath != "" {
			volDst = &volume.Volume{}
			exec.OutputVolume = volDst
		}
		if req.OutputSegmentationPath != "" {
			segDst = &volume.Segmentation{}
			exec.OutputSegmentation = segDst
		}
		if req.TimeoutSec > 0 {
			exec.Timeout = time.Duration(req.TimeoutSec) * time.Second
		}

		aj := newAPIJob(serverBaseCtx, svc.Submit(exec), exportTargets{
			Volume:           volDst,
			Segmentation:     segDst,
			VolumePath:       req.OutputVolumePath,
			SegmentationPath: req.OutputSegmentationPath,
		})
		jobs.add(aj)
		writeJSON(w, http.StatusAccepted, types.ExtractAccepted{JobID: aj.ID()})
	})

	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		aj, ok := jobs.get(chi.URLParam(r, "id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown job")
			return
		}
		writeJSON(w, http.StatusOK, aj.status())
	})

	r.Post("/v1/jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		aj, ok := jobs.get(chi.URLParam(r, "id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown job")
			return
		}
		aj.cancel()
		writeJSON(w, http.StatusAccepted, aj.status())
	})

	r.Get("/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		ctx, release := joinContexts(serverBaseCtx, r.Context())
		defer release()
		snap := svc.Devices(ctx)
		resp := types.DevicesResponse{Count: snap.Count}
		for i, name := range snap.Names {
			resp.Devices = append(resp.Devices, types.DeviceInfo{Index: i, Name: name})
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/v1/provision", func(w http.ResponseWriter, r *http.Request) {
		ctx, release := joinContexts(serverBaseCtx, r.Context())
		defer release()
		if err := svc.Provision(ctx, logSink{prefix: "provision"}); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeExtractRequest enforces the content type, body limit and required
// fields; it has already written the error response when ok is false.
func decodeExtractRequest(w http.ResponseWriter, r *http.Request) (types.ExtractRequest, bool) {
	var req types.ExtractRequest
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if strings.TrimSpace(req.InputPath) == "" {
		writeJSONError(w, http.StatusBadRequest, "input_path is required")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}
