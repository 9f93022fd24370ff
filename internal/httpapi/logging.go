package httpapi

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("STRIPD_HTTP_LOG_LEVEL"))

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLogger emits one line per request once the handler returns.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		if lvl < LevelInfo {
			next.ServeHTTP(w, r)
			return
		}
		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		if zlog != nil {
			z := zlog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("http request")
			return
		}
		log.Printf("http %s %s status=%d dur=%s", r.Method, r.URL.Path, sr.status, time.Since(start))
	})
}

// logSink forwards progress lines from a long-running operation into the log.
type logSink struct {
	prefix string
}

func (s logSink) Line(l string) {
	if zlog != nil {
		zlog.Debug().Str("op", s.prefix).Msg(l)
		return
	}
	log.Printf("%s> %s", s.prefix, l)
}

func (s logSink) Percent(float64) {}
