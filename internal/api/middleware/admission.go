package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/okuzmin/vectorize-api/internal/admission"
	"github.com/okuzmin/vectorize-api/internal/api/shared"
)

// AdmissionMiddleware enforces per-tier rate limits and concurrency
// ceilings resolved from the caller identity set by AuthMiddleware.
type AdmissionMiddleware struct {
	controller *admission.Controller
}

// NewAdmissionMiddleware creates a new AdmissionMiddleware.
func NewAdmissionMiddleware(controller *admission.Controller) *AdmissionMiddleware {
	return &AdmissionMiddleware{controller: controller}
}

// Limit checks the sliding-window quota for the given class before passing
// the request on. Rejections carry Retry-After and the X-RateLimit-* set.
func (m *AdmissionMiddleware) Limit(class admission.LimitClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := admission.Tier(shared.GetTier(r.Context()))
			identity := shared.GetIdentity(r.Context())

			decision := m.controller.Allow(tier, identity, class)
			writeRateLimitHeaders(w, decision)
			if !decision.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Round(time.Second).Seconds())))
				shared.RespondWithError(w, r, http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("Rate limit exceeded for %s tier, retry after %s", decision.Tier, decision.RetryAfter.Round(time.Second)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Concurrent holds a concurrency slot for the duration of the request.
// Requests beyond the tier ceiling are rejected immediately rather than
// queued.
func (m *AdmissionMiddleware) Concurrent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier := admission.Tier(shared.GetTier(r.Context()))
		identity := shared.GetIdentity(r.Context())

		release, err := m.controller.BeginConcurrent(tier, identity)
		if err != nil {
			w.Header().Set("Retry-After", "1")
			shared.RespondWithError(w, r, http.StatusTooManyRequests, "concurrency_limited",
				fmt.Sprintf("Concurrency limit reached for %s tier", tier))
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}

func writeRateLimitHeaders(w http.ResponseWriter, d admission.Decision) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.Reset.Unix()))
}
