package middleware

import (
	"log/slog"
	"net/http"

	"github.com/okuzmin/vectorize-api/internal/api/shared"
)

// TraceMiddleware stamps each request context with a trace ID. It runs before
// auth and admission so every log line and error response produced further
// down the chain carries the same trace_id.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())

		log := slog.Default().With("trace_id", shared.GetTraceID(ctx))
		log.Debug("request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
