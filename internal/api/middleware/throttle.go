package middleware

import (
	"net/http"

	"github.com/okuzmin/vectorize-api/internal/api/shared"
	"github.com/okuzmin/vectorize-api/internal/monitor"
)

// ThrottleMiddleware applies resource-pressure admission: requests are
// delayed or shed depending on the process's current memory and CPU level.
type ThrottleMiddleware struct {
	throttler *monitor.Throttler
}

// NewThrottleMiddleware creates a new ThrottleMiddleware. A nil throttler
// disables pressure-based admission.
func NewThrottleMiddleware(throttler *monitor.Throttler) *ThrottleMiddleware {
	return &ThrottleMiddleware{throttler: throttler}
}

// Admit acquires an admission slot for the request, releasing it when the
// handler returns.
func (m *ThrottleMiddleware) Admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.throttler == nil {
			next.ServeHTTP(w, r)
			return
		}

		release, err := m.throttler.Admit(r.Context())
		if err != nil {
			w.Header().Set("Retry-After", "5")
			shared.RespondWithError(w, r, http.StatusServiceUnavailable, "overloaded",
				"Server is under heavy load, try again shortly")
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}
