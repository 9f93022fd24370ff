package httpapi

import (
	"sync"
	"time"

	"github.com/go-chi/cors"
)

// maxBodyBytes controls the maximum allowed request body size for JSON
// endpoints. Requests carry file paths, not voxel data, so the default is
// deliberately small.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// jobRetention controls how long finished jobs remain queryable before the
// registry evicts them.
var jobRetention = time.Hour

// SetJobRetention configures finished-job retention (non-positive restores
// the default).
func SetJobRetention(d time.Duration) {
	if d <= 0 {
		jobRetention = time.Hour
		return
	}
	jobRetention = d
}

// CORS configuration (opt-in). If unset, no CORS middleware is added.
var (
	corsMu   sync.Mutex
	corsOpts *cors.Options
)

// SetCORS enables CORS with the given options for muxes built afterwards.
func SetCORS(opts cors.Options) {
	corsMu.Lock()
	defer corsMu.Unlock()
	corsOpts = &opts
}

func corsOptions() *cors.Options {
	corsMu.Lock()
	defer corsMu.Unlock()
	return corsOpts
}
