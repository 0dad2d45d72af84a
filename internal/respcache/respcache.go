// Package respcache caches GET/HEAD responses keyed by method, path, query,
// and a fixed set of vary headers. Cached payloads carry pre-computed
// compressed variants so repeat clients can be served encoded bytes without
// re-compressing, and a validator registry supports conditional requests
// (ETag / Last-Modified) independently of payload caching.
package respcache

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

// VaryHeaders is the fixed set of request headers folded into the cache key.
var VaryHeaders = []string{"Accept", "Accept-Encoding", "Authorization"}

// Encodings the cache pre-computes variants for, in server preference order.
var supportedEncodings = []string{"br", "gzip", "deflate"}

// Entry is one cached response.
type Entry struct {
	Key        string
	StatusCode int
	Header     http.Header
	Body       []byte
	ETag       string
	CreatedAt  time.Time

	mu       sync.RWMutex
	variants map[string][]byte
}

// Variant returns the pre-computed compressed body for an encoding, if ready.
func (e *Entry) Variant(encoding string) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.variants[encoding]
	return v, ok
}

// Age returns how long the entry has been cached.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Key builds the stable cache key from method, path, query, and the values of
// the vary headers in request order.
func Key(method, path, rawQuery string, varyValues []string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(rawQuery))
	for _, v := range varyValues {
		h.Write([]byte{0})
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// KeyForRequest builds the cache key for an incoming request.
func KeyForRequest(r *http.Request) string {
	vary := make([]string, len(VaryHeaders))
	for i, name := range VaryHeaders {
		vary[i] = r.Header.Get(name)
	}
	return Key(r.Method, r.URL.Path, r.URL.RawQuery, vary)
}

// Store is an in-memory response cache with TTL expiry. Safe for concurrent
// use.
type Store struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewStore creates a cache whose entries expire after ttl, swept in the
// background.
func NewStore(ttl time.Duration, sweepInterval time.Duration, logger *slog.Logger) *Store {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s := &Store{
		ttl:       ttl,
		logger:    logger.With("component", "response_cache"),
		now:       time.Now,
		entries:   make(map[string]*Entry),
		sweepStop: make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Get returns the live entry for a key. Expired entries read as absent.
func (s *Store) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(e.CreatedAt) > s.ttl {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// Put stores a response and kicks off variant compression in the background.
// The body slice is owned by the cache after this call.
func (s *Store) Put(key string, statusCode int, header http.Header, body []byte, etag string) *Entry {
	e := &Entry{
		Key:        key,
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
		ETag:       etag,
		CreatedAt:  s.now(),
		variants:   make(map[string][]byte),
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()

	go s.compressVariants(e)
	return e
}

// Invalidate removes a single entry.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear drops every entry. Called by the resource monitor when memory
// pressure crosses the critical threshold.
func (s *Store) Clear() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	if n > 0 {
		s.logger.Info("response cache cleared", "evicted", n)
	}
}

// Len reports the number of cached entries, for stats.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweeper.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.sweepStop) })
}

// compressVariants fills in the compressed bodies for every supported
// encoding. Variants only help for payloads big enough to beat the framing
// overhead, so tiny bodies are skipped.
func (s *Store) compressVariants(e *Entry) {
	if len(e.Body) < 256 {
		return
	}

	for _, enc := range supportedEncodings {
		compressed, err := compress(enc, e.Body)
		if err != nil {
			s.logger.Warn("failed to pre-compress cache variant", "encoding", enc, "error", err)
			continue
		}
		if len(compressed) >= len(e.Body) {
			continue
		}
		e.mu.Lock()
		e.variants[enc] = compressed
		e.mu.Unlock()
	}
}

func compress(encoding string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "deflate":
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "br":
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// NegotiateEncoding picks the best supported encoding accepted by the client,
// or empty when identity should be served.
func NegotiateEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}
	accepted := make(map[string]bool)
	for _, part := range strings.Split(acceptEncoding, ",") {
		name := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if name != "" {
			accepted[strings.ToLower(name)] = true
		}
	}
	for _, enc := range supportedEncodings {
		if accepted[enc] || accepted["*"] {
			return enc
		}
	}
	return ""
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	if s.ttl <= 0 {
		return
	}
	now := s.now()

	s.mu.Lock()
	removed := 0
	for key, e := range s.entries {
		if now.Sub(e.CreatedAt) > s.ttl {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("swept expired cache entries", "removed", removed)
	}
}
