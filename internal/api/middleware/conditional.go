package middleware

import (
	"net/http"

	"github.com/okuzmin/vectorize-api/internal/api/shared"
	"github.com/okuzmin/vectorize-api/internal/respcache"
)

// ConditionalMiddleware answers conditional requests from the validator
// registry: 304 for revalidating reads, 412 for stale-precondition writes.
// The resource identity is the request path, which is what handlers register
// validators under.
type ConditionalMiddleware struct {
	validators *respcache.Validators
}

// NewConditionalMiddleware creates a new ConditionalMiddleware.
func NewConditionalMiddleware(validators *respcache.Validators) *ConditionalMiddleware {
	return &ConditionalMiddleware{validators: validators}
}

// Handle short-circuits conditional requests before the handler runs.
func (m *ConditionalMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource := r.URL.Path

		switch r.Method {
		case http.MethodGet, http.MethodHead:
			if m.validators.CheckNotModified(r, resource) {
				if val, ok := m.validators.Lookup(resource); ok {
					w.Header().Set("ETag", val.ETag)
				}
				w.WriteHeader(http.StatusNotModified)
				return
			}
		default:
			if m.validators.CheckPreconditionFailed(r, resource) {
				shared.RespondWithError(w, r, http.StatusPreconditionFailed, "precondition_failed",
					"Resource version does not match the precondition")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
