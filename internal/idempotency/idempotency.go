// Package idempotency provides at-most-once handling for mutating requests.
// The first 2xx response produced under an idempotency key is recorded; an
// exact replay of the same request returns that response byte-for-byte
// without re-invoking the handler, and reuse of the key for a semantically
// different request is rejected as a conflict.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// FingerprintHeaders is the fixed allow-list of headers folded into the
// request fingerprint. Anything outside this list may vary between retries
// without changing request identity.
var FingerprintHeaders = []string{"Content-Type", "Accept"}

// Record is the stored outcome of the first successful execution under a key.
type Record struct {
	Key         string
	Fingerprint string
	StatusCode  int
	Header      http.Header
	Body        []byte
	CreatedAt   time.Time
}

// ValidateKey checks the client-supplied key format: a UUIDv4 or any token of
// at least 16 characters.
func ValidateKey(key string) error {
	if _, err := uuid.Parse(key); err == nil {
		return nil
	}
	if len(key) >= 16 {
		return nil
	}
	return fmt.Errorf("%w: idempotency key must be a UUID or at least 16 characters", domain.ErrValidation)
}

// Fingerprint computes the deterministic identity of a request from its
// method, path, query, body, and the allow-listed headers.
func Fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(canonicalQuery(r)))
	h.Write([]byte{0})
	for _, name := range FingerprintHeaders {
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(r.Header.Get(name)))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalQuery sorts query parameters so retries with reordered parameters
// fingerprint identically.
func canonicalQuery(r *http.Request) string {
	values := r.URL.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte('&')
		}
	}
	return b.String()
}

// Store is an in-memory idempotency record table with TTL expiry. Safe for
// concurrent use.
type Store struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*Record

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewStore creates a store whose records expire after ttl. A background
// sweeper reclaims expired records independently of request handling.
func NewStore(ttl time.Duration, sweepInterval time.Duration, logger *slog.Logger) *Store {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s := &Store{
		ttl:       ttl,
		logger:    logger.With("component", "idempotency_store"),
		now:       time.Now,
		records:   make(map[string]*Record),
		sweepStop: make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Get returns the live record for a key, if any. Expired records count as
// absent even before the sweeper reclaims them.
func (s *Store) Get(key string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(rec.CreatedAt) > s.ttl {
		delete(s.records, key)
		return nil, false
	}
	return rec, true
}

// Put stores a record. The first writer for a key wins; a concurrent
// duplicate is dropped so a key can never map to two fingerprints.
func (s *Store) Put(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Key]; ok {
		if existing.Fingerprint != rec.Fingerprint {
			s.logger.Warn("dropping idempotency record with conflicting fingerprint", "key", rec.Key)
		}
		return
	}
	rec.CreatedAt = s.now()
	s.records[rec.Key] = rec
}

// Len reports the number of stored records, for stats.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close stops the background sweeper.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.sweepStop) })
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
	for key, rec := range s.records {
		if now.Sub(rec.CreatedAt) > s.ttl {
			delete(s.records, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("swept expired idempotency records", "removed", removed)
	}
}
