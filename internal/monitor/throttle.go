package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// queueTimeout is how long a queued request may wait before it is rejected
// as stale rather than processed.
const queueTimeout = 30 * time.Second

// Throttler queues incoming requests up to a bounded size and applies an
// increasing processing delay as resource pressure rises. A full queue
// rejects immediately; a queued request aging past the timeout is rejected
// rather than processed stale.
type Throttler struct {
	monitor *Monitor
	slots   chan struct{}
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewThrottler creates a throttler admitting at most queueSize concurrent
// waiters.
func NewThrottler(m *Monitor, queueSize int, logger *slog.Logger) *Throttler {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Throttler{
		monitor: m,
		slots:   make(chan struct{}, queueSize),
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logger.With("component", "throttler"),
	}
}

// Admit blocks the request until it may proceed. The returned release
// function must be called when request processing finishes.
func (t *Throttler) Admit(ctx context.Context) (release func(), err error) {
	if t.monitor.Shedding() {
		return nil, fmt.Errorf("%w: resource pressure is %s",
			domain.ErrOverloaded, t.monitor.Level())
	}

	select {
	case t.slots <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: request queue is full", domain.ErrOverloaded)
	}
	release = func() { <-t.slots }

	t.adjustRate()

	waitCtx, cancel := context.WithTimeout(ctx, queueTimeout)
	defer cancel()

	if delay := t.delayFor(t.monitor.Level()); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-waitCtx.Done():
			timer.Stop()
			release()
			return nil, fmt.Errorf("%w: timed out in throttle queue", domain.ErrOverloaded)
		}
	}

	if err := t.limiter.Wait(waitCtx); err != nil {
		release()
		return nil, fmt.Errorf("%w: timed out in throttle queue", domain.ErrOverloaded)
	}

	return release, nil
}

// adjustRate maps the current pressure level onto the intake rate.
func (t *Throttler) adjustRate() {
	switch t.monitor.Level() {
	case LevelCritical:
		t.limiter.SetLimit(rate.Limit(20))
	case LevelWarning:
		t.limiter.SetLimit(rate.Limit(100))
	default:
		t.limiter.SetLimit(rate.Inf)
	}
}

// delayFor is the fixed processing delay added per pressure level.
func (t *Throttler) delayFor(level Level) time.Duration {
	switch level {
	case LevelWarning:
		return 100 * time.Millisecond
	case LevelCritical:
		return 500 * time.Millisecond
	default:
		return 0
	}
}

// Queued reports how many requests currently hold throttle slots, for stats.
func (t *Throttler) Queued() int {
	return len(t.slots)
}
