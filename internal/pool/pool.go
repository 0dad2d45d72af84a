// Package pool provides a generic bounded pool of reusable resource handles.
// It caps concurrent use of scarce resources such as external-process slots
// and outbound connections: handles are created by a caller-supplied factory,
// validated before being handed out, recycled after a configured number of
// uses, and evicted in the background once idle for too long.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors returned by the pool.
var (
	ErrAcquireTimeout = errors.New("pool: acquire timed out")
	ErrPoolClosed     = errors.New("pool: closed")
)

// Factory creates, destroys, and validates resource handles on behalf of the
// pool. Implementations must be safe for concurrent use.
type Factory[T comparable] interface {
	// Create builds a new handle. The context carries the pool's create
	// timeout.
	Create(ctx context.Context) (T, error)

	// Destroy releases a handle's underlying resource.
	Destroy(handle T) error

	// Validate reports whether a handle is still healthy enough to hand out.
	Validate(handle T) bool
}

// Policy configures pool sizing and timing behavior.
type Policy struct {
	// Min is the number of handles the pool tries to retain.
	Min int

	// Max is the hard ceiling on concurrently existing handles.
	Max int

	// IdleTimeout is how long a handle may sit idle before background
	// eviction destroys it.
	IdleTimeout time.Duration

	// AcquireTimeout bounds how long Acquire blocks waiting for a handle.
	AcquireTimeout time.Duration

	// CreateTimeout bounds a single factory Create call.
	CreateTimeout time.Duration

	// MaxUses destroys a handle after this many releases; zero disables
	// use-based recycling.
	MaxUses int

	// EvictionInterval is how often the background sweeper runs. Defaults to
	// one minute.
	EvictionInterval time.Duration
}

// DefaultPolicy returns a Policy with reasonable defaults.
func DefaultPolicy() Policy {
	return Policy{
		Min:              0,
		Max:              4,
		IdleTimeout:      5 * time.Minute,
		AcquireTimeout:   10 * time.Second,
		CreateTimeout:    5 * time.Second,
		MaxUses:          0,
		EvictionInterval: time.Minute,
	}
}

// entry tracks one pooled handle.
type entry[T comparable] struct {
	id         uint64
	handle     T
	createdAt  time.Time
	lastUsedAt time.Time
	inUse      bool
	useCount   int
}

// waiter is a queued acquirer. The channel is buffered so a release never
// blocks on a handoff.
type waiter[T comparable] struct {
	ch chan *entry[T]
}

// Pool is a bounded set of reusable handles with FIFO acquire semantics.
type Pool[T comparable] struct {
	factory Factory[T]
	policy  Policy
	logger  *slog.Logger

	mu       sync.Mutex
	entries  map[T]*entry[T]
	idle     []*entry[T]
	waiters  []*waiter[T]
	creating int
	closed   bool

	nextID uint64

	evictStop chan struct{}
	evictDone chan struct{}
}

// New creates a pool and starts its background eviction sweeper. Min handles
// are created lazily on first demand, not eagerly.
func New[T comparable](factory Factory[T], policy Policy, logger *slog.Logger) *Pool[T] {
	if policy.Max <= 0 {
		policy.Max = 1
	}
	if policy.EvictionInterval <= 0 {
		policy.EvictionInterval = time.Minute
	}

	p := &Pool[T]{
		factory:   factory,
		policy:    policy,
		logger:    logger.With("component", "resource_pool"),
		entries:   make(map[T]*entry[T]),
		evictStop: make(chan struct{}),
		evictDone: make(chan struct{}),
	}

	go p.evictLoop()

	return p
}

// Acquire hands out a healthy handle, creating one if the pool is below Max,
// otherwise blocking FIFO until a release or the acquire timeout. This is the
// only pool operation allowed to block the caller.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}

	// Reuse an idle handle if a valid one exists. Invalid handles are
	// destroyed and replaced rather than handed to a caller.
	for len(p.idle) > 0 {
		e := p.idle[0]
		p.idle = p.idle[1:]

		if p.factory.Validate(e.handle) {
			e.inUse = true
			e.lastUsedAt = time.Now()
			p.mu.Unlock()
			return e.handle, nil
		}

		p.removeLocked(e)
		p.mu.Unlock()
		p.destroy(e)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, ErrPoolClosed
		}
	}

	// Below the ceiling: create a fresh handle.
	if len(p.entries)+p.creating < p.policy.Max {
		p.creating++
		p.mu.Unlock()
		return p.create(ctx)
	}

	// At the ceiling: queue FIFO behind earlier acquirers.
	w := &waiter[T]{ch: make(chan *entry[T], 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timeout := p.policy.AcquireTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e, ok := <-w.ch:
		if !ok {
			return zero, ErrPoolClosed
		}
		return e.handle, nil
	case <-timer.C:
		return zero, p.abandonWait(w, ErrAcquireTimeout)
	case <-ctx.Done():
		return zero, p.abandonWait(w, ctx.Err())
	}
}

// abandonWait removes a waiter from the queue after a timeout or
// cancellation. If a release already handed it a handle, the handle is put
// back instead of being leaked.
func (p *Pool[T]) abandonWait(w *waiter[T], cause error) error {
	p.mu.Lock()
	for i, qw := range p.waiters {
		if qw == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			if errors.Is(cause, ErrAcquireTimeout) {
				return fmt.Errorf("%w after %s", ErrAcquireTimeout, p.policy.AcquireTimeout)
			}
			return cause
		}
	}
	p.mu.Unlock()

	// Not in the queue: a handoff raced with the timeout. The entry is
	// sitting in the buffered channel.
	if e, ok := <-w.ch; ok {
		p.Release(e.handle)
	}
	if errors.Is(cause, ErrAcquireTimeout) {
		return fmt.Errorf("%w after %s", ErrAcquireTimeout, p.policy.AcquireTimeout)
	}
	return cause
}

// create builds a new handle via the factory. The caller must have already
// incremented p.creating under the lock.
func (p *Pool[T]) create(ctx context.Context) (T, error) {
	var zero T

	createCtx := ctx
	if p.policy.CreateTimeout > 0 {
		var cancel context.CancelFunc
		createCtx, cancel = context.WithTimeout(ctx, p.policy.CreateTimeout)
		defer cancel()
	}

	handle, err := p.factory.Create(createCtx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		return zero, fmt.Errorf("pool: create failed: %w", err)
	}
	if p.closed {
		p.mu.Unlock()
		_ = p.factory.Destroy(handle)
		return zero, ErrPoolClosed
	}

	now := time.Now()
	e := &entry[T]{
		id:         atomic.AddUint64(&p.nextID, 1),
		handle:     handle,
		createdAt:  now,
		lastUsedAt: now,
		inUse:      true,
	}
	p.entries[handle] = e
	p.mu.Unlock()

	return handle, nil
}

// Release returns a handle to the pool. A handle that reached MaxUses is
// destroyed instead and, if the pool dropped below Min, replaced. Releasing
// an unknown or already-idle handle is a no-op with a warning.
func (p *Pool[T]) Release(handle T) {
	p.mu.Lock()
	e, ok := p.entries[handle]
	if !ok || !e.inUse {
		p.mu.Unlock()
		p.logger.Warn("release of unknown or idle handle ignored")
		return
	}

	e.useCount++
	e.lastUsedAt = time.Now()

	if p.policy.MaxUses > 0 && e.useCount >= p.policy.MaxUses {
		p.removeLocked(e)
		needReplacement := len(p.entries)+p.creating < p.policy.Min
		if needReplacement {
			p.creating++
		}
		p.mu.Unlock()

		p.destroy(e)
		if needReplacement {
			go p.replenish()
		}
		return
	}

	p.handBackLocked(e)
	p.mu.Unlock()
}

// handBackLocked gives the entry to the oldest waiter, or parks it idle.
// Caller holds p.mu.
func (p *Pool[T]) handBackLocked(e *entry[T]) {
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		e.inUse = true
		w.ch <- e
		return
	}
	e.inUse = false
	p.idle = append(p.idle, e)
}

// replenish creates a replacement handle to keep the pool at Min. The
// creating slot was already reserved by the caller.
func (p *Pool[T]) replenish() {
	handle, err := p.create(context.Background())
	if err != nil {
		p.logger.Warn("failed to create replacement handle", "error", err)
		return
	}

	p.mu.Lock()
	if e, ok := p.entries[handle]; ok {
		p.handBackLocked(e)
	}
	p.mu.Unlock()
}

// removeLocked drops an entry from all internal indexes. Caller holds p.mu.
func (p *Pool[T]) removeLocked(e *entry[T]) {
	delete(p.entries, e.handle)
	for i, ie := range p.idle {
		if ie == e {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
}

func (p *Pool[T]) destroy(e *entry[T]) {
	if err := p.factory.Destroy(e.handle); err != nil {
		p.logger.Warn("failed to destroy handle", "error", err, "use_count", e.useCount)
	}
}

// evictLoop periodically destroys handles idle past IdleTimeout, never
// dropping the pool below Min.
func (p *Pool[T]) evictLoop() {
	defer close(p.evictDone)

	ticker := time.NewTicker(p.policy.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.evictStop:
			return
		case <-ticker.C:
			p.evictIdle(time.Now())
		}
	}
}

func (p *Pool[T]) evictIdle(now time.Time) {
	if p.policy.IdleTimeout <= 0 {
		return
	}

	var victims []*entry[T]

	p.mu.Lock()
	kept := p.idle[:0]
	for _, e := range p.idle {
		expired := now.Sub(e.lastUsedAt) > p.policy.IdleTimeout
		if expired && len(p.entries)-len(victims) > p.policy.Min {
			victims = append(victims, e)
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept
	for _, e := range victims {
		delete(p.entries, e.handle)
	}
	p.mu.Unlock()

	for _, e := range victims {
		p.logger.Debug("evicting idle handle", "idle_for", now.Sub(e.lastUsedAt).String())
		p.destroy(e)
	}
}

// Stats reports current pool occupancy.
type Stats struct {
	Total   int
	Idle    int
	InUse   int
	Waiting int
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:   len(p.entries) + p.creating,
		Idle:    len(p.idle),
		InUse:   len(p.entries) + p.creating - len(p.idle),
		Waiting: len(p.waiters),
	}
}

// Drain rejects all queued acquirers, destroys every handle, and stops the
// background sweeper. The pool is unusable afterwards; used at shutdown.
func (p *Pool[T]) Drain() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	waiters := p.waiters
	p.waiters = nil

	victims := make([]*entry[T], 0, len(p.entries))
	for _, e := range p.entries {
		victims = append(victims, e)
	}
	p.entries = make(map[T]*entry[T])
	p.idle = nil
	p.mu.Unlock()

	close(p.evictStop)
	<-p.evictDone

	for _, w := range waiters {
		close(w.ch)
	}
	for _, e := range victims {
		p.destroy(e)
	}

	p.logger.Info("pool drained", "destroyed", len(victims), "rejected_waiters", len(waiters))
}
