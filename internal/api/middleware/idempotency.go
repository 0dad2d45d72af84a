package middleware

import (
	"net/http"
	"time"

	"github.com/okuzmin/vectorize-api/internal/api/shared"
	"github.com/okuzmin/vectorize-api/internal/idempotency"
)

// IdempotencyMiddleware replays stored responses for repeated requests that
// carry the same Idempotency-Key, and rejects key reuse across different
// request fingerprints.
type IdempotencyMiddleware struct {
	store *idempotency.Store
}

// NewIdempotencyMiddleware creates a new IdempotencyMiddleware. A nil store
// disables the guard and requests pass straight through.
func NewIdempotencyMiddleware(store *idempotency.Store) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{store: store}
}

// Guard intercepts requests carrying an Idempotency-Key header. Requests
// without the header are unaffected.
func (m *IdempotencyMiddleware) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" || m.store == nil {
			next.ServeHTTP(w, r)
			return
		}

		if err := idempotency.ValidateKey(key); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "validation",
				"Idempotency-Key must be a UUID or at least 16 characters")
			return
		}

		body, err := shared.SnapshotBody(r)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "validation", "Failed to read request body")
			return
		}
		fingerprint := idempotency.Fingerprint(r, body)

		if rec, ok := m.store.Get(key); ok {
			if rec.Fingerprint != fingerprint {
				shared.RespondWithError(w, r, http.StatusConflict, "conflict",
					"Idempotency-Key was already used for a different request")
				return
			}
			copyHeader(w.Header(), rec.Header)
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		}

		recorder := newResponseRecorder()
		next.ServeHTTP(recorder, r)

		// Only successful outcomes are memoized; errors stay retryable
		// under the same key.
		if recorder.statusCode >= 200 && recorder.statusCode < 300 {
			m.store.Put(&idempotency.Record{
				Key:         key,
				Fingerprint: fingerprint,
				StatusCode:  recorder.statusCode,
				Header:      recorder.header.Clone(),
				Body:        append([]byte(nil), recorder.body.Bytes()...),
				CreatedAt:   time.Now(),
			})
		}

		recorder.flush(w)
	})
}
