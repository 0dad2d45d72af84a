// Package admission implements tiered admission control: a sliding-window
// rate limit per (tier, identity, limit class) and a hard concurrency ceiling
// per identity. Both checks run before a request reaches the orchestrator so
// over-quota traffic never consumes conversion work.
package admission

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// Tier classifies a caller for quota lookup.
type Tier string

// Known tiers, in ascending order of generosity.
const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// LimitClass selects which window quota applies to a request.
type LimitClass string

// Limit classes tracked independently per identity.
const (
	ClassRequests    LimitClass = "requests"
	ClassUploads     LimitClass = "uploads"
	ClassConversions LimitClass = "conversions"
)

// Quota is the static per-tier configuration: window quotas per limit class
// plus a concurrency ceiling. Immutable at runtime.
type Quota struct {
	Requests      int
	Uploads       int
	Conversions   int
	Window        time.Duration
	MaxConcurrent int
}

func (q Quota) limitFor(class LimitClass) int {
	switch class {
	case ClassUploads:
		return q.Uploads
	case ClassConversions:
		return q.Conversions
	default:
		return q.Requests
	}
}

// DefaultQuotas returns the built-in tier table used when configuration does
// not override it.
func DefaultQuotas() map[Tier]Quota {
	return map[Tier]Quota{
		TierFree:       {Requests: 60, Uploads: 10, Conversions: 10, Window: time.Minute, MaxConcurrent: 1},
		TierBasic:      {Requests: 300, Uploads: 60, Conversions: 60, Window: time.Minute, MaxConcurrent: 4},
		TierPro:        {Requests: 1200, Uploads: 300, Conversions: 300, Window: time.Minute, MaxConcurrent: 16},
		TierEnterprise: {Requests: 6000, Uploads: 1500, Conversions: 1500, Window: time.Minute, MaxConcurrent: 64},
	}
}

// Decision is the outcome of a rate-limit check, carrying the transparency
// fields surfaced in X-RateLimit-* headers.
type Decision struct {
	Allowed    bool
	Tier       Tier
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Controller enforces tier quotas. Safe for concurrent use.
type Controller struct {
	quotas    map[Tier]Quota
	logger    *slog.Logger
	now       func() time.Time
	maxWindow time.Duration

	mu        sync.Mutex
	windows   map[string][]time.Time
	inflight  map[string]int
	lastSweep time.Time
}

// NewController creates a Controller with the given tier table. Nil quotas
// fall back to DefaultQuotas.
func NewController(quotas map[Tier]Quota, logger *slog.Logger) *Controller {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	var maxWindow time.Duration
	for _, q := range quotas {
		if q.Window > maxWindow {
			maxWindow = q.Window
		}
	}
	return &Controller{
		quotas:    quotas,
		logger:    logger.With("component", "admission"),
		now:       time.Now,
		maxWindow: maxWindow,
		windows:   make(map[string][]time.Time),
		inflight:  make(map[string]int),
	}
}

// QuotaFor looks up the quota for a tier, falling back to the free tier for
// unknown tiers.
func (c *Controller) QuotaFor(tier Tier) Quota {
	if q, ok := c.quotas[tier]; ok {
		return q
	}
	return c.quotas[TierFree]
}

// Allow records and checks one event against the sliding window for
// (tier, identity, class). When the quota is exhausted the decision carries a
// retry-after duration and the caller's current limit for transparency.
func (c *Controller) Allow(tier Tier, identity string, class LimitClass) Decision {
	quota := c.QuotaFor(tier)
	limit := quota.limitFor(class)
	now := c.now()
	key := string(tier) + "|" + identity + "|" + string(class)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeSweepLocked(now)

	// Drop events that slid out of the window, copying instead of reslicing
	// so expired entries do not pin the backing array.
	events := c.windows[key]
	cutoff := now.Add(-quota.Window)
	expired := 0
	for expired < len(events) && !events[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		events = append([]time.Time(nil), events[expired:]...)
	}

	if len(events) >= limit {
		oldest := events[0]
		retryAfter := oldest.Add(quota.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		c.windows[key] = events
		c.logger.Warn("rate limit exceeded",
			"tier", tier,
			"identity", identity,
			"class", class,
			"limit", limit)
		return Decision{
			Allowed:    false,
			Tier:       tier,
			Limit:      limit,
			Remaining:  0,
			Reset:      oldest.Add(quota.Window),
			RetryAfter: retryAfter,
		}
	}

	events = append(events, now)
	c.windows[key] = events
	return Decision{
		Allowed:   true,
		Tier:      tier,
		Limit:     limit,
		Remaining: limit - len(events),
		Reset:     now.Add(quota.Window),
	}
}

// maybeSweepLocked deletes windows whose every event has expired, so identities
// seen once and never again do not accumulate without bound. Runs at most once
// per longest configured window. Caller holds c.mu.
func (c *Controller) maybeSweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < c.maxWindow {
		return
	}
	c.lastSweep = now
	for key, events := range c.windows {
		tier, _, _ := strings.Cut(key, "|")
		cutoff := now.Add(-c.QuotaFor(Tier(tier)).Window)
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(c.windows, key)
		}
	}
}

// BeginConcurrent admits one in-flight operation for an identity, or fails
// with ErrConcurrencyLimited when the tier's ceiling is reached. On success
// the returned release function must be called exactly once when the
// operation completes, on every path, so the counter cannot leak upward.
func (c *Controller) BeginConcurrent(tier Tier, identity string) (release func(), err error) {
	quota := c.QuotaFor(tier)
	key := string(tier) + "|" + identity

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[key] >= quota.MaxConcurrent {
		c.logger.Warn("concurrency ceiling reached",
			"tier", tier,
			"identity", identity,
			"ceiling", quota.MaxConcurrent)
		return nil, fmt.Errorf("%w: tier %s allows %d concurrent operations",
			domain.ErrConcurrencyLimited, tier, quota.MaxConcurrent)
	}
	c.inflight[key]++

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.inflight[key] > 0 {
				c.inflight[key]--
			}
			if c.inflight[key] == 0 {
				delete(c.inflight, key)
			}
		})
	}, nil
}

// Inflight reports the current live count for an identity, for stats.
func (c *Controller) Inflight(tier Tier, identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[string(tier)+"|"+identity]
}
