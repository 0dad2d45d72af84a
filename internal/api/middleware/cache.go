package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okuzmin/vectorize-api/internal/respcache"
)

// CacheMiddleware serves cacheable GET and HEAD responses from the response
// cache, with pre-computed compressed variants negotiated by Accept-Encoding.
type CacheMiddleware struct {
	store     *respcache.Store
	cacheable map[int]bool
}

// NewCacheMiddleware creates a new CacheMiddleware. A nil store disables
// caching; an empty status list caches 200 responses only.
func NewCacheMiddleware(store *respcache.Store, statuses []int) *CacheMiddleware {
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	cacheable := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		cacheable[s] = true
	}
	return &CacheMiddleware{store: store, cacheable: cacheable}
}

// Cache serves hits from the store and records misses whose status is in the
// cacheable set.
func (m *CacheMiddleware) Cache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.store == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
			next.ServeHTTP(w, r)
			return
		}

		key := respcache.KeyForRequest(r)
		if entry, ok := m.store.Get(key); ok {
			m.serveHit(w, r, entry)
			return
		}

		recorder := newResponseRecorder()
		next.ServeHTTP(recorder, r)

		if m.cacheable[recorder.statusCode] {
			m.store.Put(key, recorder.statusCode, recorder.header.Clone(),
				append([]byte(nil), recorder.body.Bytes()...), recorder.header.Get("ETag"))
		}

		recorder.header.Set("X-Cache", "MISS")
		recorder.flush(w)
	})
}

func (m *CacheMiddleware) serveHit(w http.ResponseWriter, r *http.Request, entry *respcache.Entry) {
	copyHeader(w.Header(), entry.Header)
	w.Header().Set("X-Cache", "HIT")
	w.Header().Set("Age", fmt.Sprintf("%d", int(entry.Age(time.Now()).Seconds())))
	w.Header().Set("Vary", strings.Join(respcache.VaryHeaders, ", "))

	body := entry.Body
	if encoding := respcache.NegotiateEncoding(r.Header.Get("Accept-Encoding")); encoding != "" {
		if variant, ready := entry.Variant(encoding); ready {
			body = variant
			w.Header().Set("Content-Encoding", encoding)
		}
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.WriteHeader(entry.StatusCode)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
