// Package middleware decorates the local status server's handlers.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/honeyecosystem/sync/internal/logging"
)

// statusRecorder captures the response code for the completion log entry.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.code = code
	rec.ResponseWriter.WriteHeader(code)
}

// quiet paths are scraped on an interval and would drown the log.
var quiet = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// RequestLogger tags each status-server request with an id, carries a scoped
// logger on the context, and recovers handler panics.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			reqLogger := base.With("request_id", requestID, "path", r.URL.Path)

			ctx := logging.WithRequestID(logging.WithLogger(r.Context(), reqLogger), requestID)
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()

			defer func() {
				if p := recover(); p != nil {
					reqLogger.Error("panic recovered", "panic", p)
					http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				if !quiet[r.URL.Path] {
					reqLogger.Debug("request completed",
						"method", r.Method, "status", rec.code, "duration", time.Since(start))
				}
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}
