// Package converter defines the external converter capability consumed by
// the job orchestrator. The actual pixel-to-vector work happens in
// out-of-process tools; this package owns only the narrow interface to them,
// a registry of installed capabilities, and the mapping of low-level tool
// failures to user-safe error categories.
package converter

import (
	"context"
	"sync"
	"time"
)

// ProgressFunc receives progress percentages from a running conversion.
// Implementations clamp and order values; converters may call it from any
// goroutine.
type ProgressFunc func(percent int)

// FieldError describes one invalid conversion parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the successful outcome of a conversion.
type Result struct {
	ResultRef string
	Metrics   map[string]any
}

// Capability is one registered conversion method. The orchestrator only ever
// calls these five operations; everything behind them belongs to the tool.
type Capability interface {
	// Name returns the method name clients request.
	Name() string

	// IsAvailable reports whether the capability is currently ready to
	// accept work, e.g. whether its binary is installed.
	IsAvailable() bool

	// Validate checks conversion parameters before a job is accepted.
	Validate(params map[string]string) []FieldError

	// Convert runs the conversion, reporting progress through onProgress.
	// Cancellation is cooperative via ctx; the tool honors it if it can.
	Convert(ctx context.Context, inputRef string, params map[string]string, onProgress ProgressFunc) (*Result, error)

	// EstimateTime predicts the conversion duration for an input size.
	EstimateTime(sizeBytes int64, params map[string]string) time.Duration
}

// Registry is the set of installed converter capabilities, looked up by
// method name. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability, replacing any previous one with the same name.
func (r *Registry) Register(cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[cap.Name()] = cap
}

// Get looks up a capability by method name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// List returns all registered capabilities sorted by nothing in particular;
// callers sort if they need stable output.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	return out
}
