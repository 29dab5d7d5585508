package httpserver

import (
	"crypto/subtle"
	"net/http"
	"time"
)

// EventSecretHeader carries the shared secret Hasura attaches to event
// trigger deliveries.
const EventSecretHeader = "X-Reconciler-Event-Secret"

// RequireEventSecret rejects deliveries without the configured shared
// secret. An empty configured secret disables the check (local dev).
func RequireEventSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				got := r.Header.Get(EventSecretHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
					writeError(w, http.StatusUnauthorized, "bad_secret", "missing or invalid event secret")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type logger interface {
	Info(msg string, args ...any)
}

func RequestLogger(logger logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
