package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MakeETag derives a strong ETag from a resource's stable identity and its
// current version string.
func MakeETag(identity, version string) string {
	sum := sha256.Sum256([]byte(identity + ":" + version))
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}

// Validator is the current version marker for one resource.
type Validator struct {
	ETag         string
	LastModified time.Time
}

// Validators is a registry of resource validators for conditional requests.
// Handlers register a resource's current ETag/Last-Modified; the conditional
// middleware consults it to answer 304 and enforce 412 preconditions.
type Validators struct {
	mu        sync.RWMutex
	resources map[string]Validator
}

// NewValidators creates an empty validator registry.
func NewValidators() *Validators {
	return &Validators{resources: make(map[string]Validator)}
}

// Register records the current validator for a resource path, replacing any
// previous one.
func (v *Validators) Register(resource string, val Validator) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resources[resource] = val
}

// Unregister drops a resource's validator, e.g. after deletion.
func (v *Validators) Unregister(resource string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.resources, resource)
}

// Lookup returns the registered validator for a resource.
func (v *Validators) Lookup(resource string) (Validator, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.resources[resource]
	return val, ok
}

// CheckNotModified reports whether a GET/HEAD request's conditional headers
// match the resource's current validator, meaning a 304 should be returned.
func (v *Validators) CheckNotModified(r *http.Request, resource string) bool {
	val, ok := v.Lookup(resource)
	if !ok {
		return false
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagMatches(inm, val.ETag)
	}

	if ims := r.Header.Get("If-Modified-Since"); ims != "" && !val.LastModified.IsZero() {
		since, err := http.ParseTime(ims)
		if err != nil {
			return false
		}
		// HTTP dates have second precision
		return !val.LastModified.Truncate(time.Second).After(since)
	}

	return false
}

// CheckPreconditionFailed reports whether a mutating request's If-Match /
// If-Unmodified-Since headers fail against the current validator, meaning the
// mutation must be rejected with 412.
func (v *Validators) CheckPreconditionFailed(r *http.Request, resource string) bool {
	im := r.Header.Get("If-Match")
	ius := r.Header.Get("If-Unmodified-Since")
	if im == "" && ius == "" {
		return false
	}

	val, ok := v.Lookup(resource)
	if !ok {
		// a precondition against a resource with no known version fails
		return true
	}

	if im != "" && !etagMatches(im, val.ETag) {
		return true
	}

	if ius != "" && !val.LastModified.IsZero() {
		since, err := http.ParseTime(ius)
		if err != nil {
			return true
		}
		if val.LastModified.Truncate(time.Second).After(since) {
			return true
		}
	}

	return false
}

// etagMatches checks a conditional header value (possibly a comma-separated
// list or "*") against the current ETag.
func etagMatches(headerValue, current string) bool {
	if current == "" {
		return false
	}
	for _, candidate := range strings.Split(headerValue, ",") {
		candidate = strings.TrimSpace(candidate)
		// weak comparison is fine for cache validation
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == current {
			return true
		}
	}
	return false
}
