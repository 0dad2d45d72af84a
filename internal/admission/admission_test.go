package admission

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func testQuotas() map[Tier]Quota {
	return map[Tier]Quota{
		TierFree: {Requests: 3, Uploads: 2, Conversions: 1, Window: time.Minute, MaxConcurrent: 1},
		TierPro:  {Requests: 100, Uploads: 50, Conversions: 50, Window: time.Minute, MaxConcurrent: 4},
	}
}

func TestAllowWithinQuota(t *testing.T) {
	c := NewController(testQuotas(), testLogger())

	for i := 0; i < 3; i++ {
		d := c.Allow(TierFree, "alice", ClassRequests)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := c.Allow(TierFree, "alice", ClassRequests)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfter, time.Second)
}

func TestAllowClassesAreIndependent(t *testing.T) {
	c := NewController(testQuotas(), testLogger())

	d := c.Allow(TierFree, "alice", ClassConversions)
	require.True(t, d.Allowed)
	d = c.Allow(TierFree, "alice", ClassConversions)
	assert.False(t, d.Allowed)

	// the requests class still has headroom
	d = c.Allow(TierFree, "alice", ClassRequests)
	assert.True(t, d.Allowed)
}

func TestAllowIdentitiesAreIndependent(t *testing.T) {
	c := NewController(testQuotas(), testLogger())

	d := c.Allow(TierFree, "alice", ClassConversions)
	require.True(t, d.Allowed)

	d = c.Allow(TierFree, "bob", ClassConversions)
	assert.True(t, d.Allowed)
}

func TestSlidingWindowExpiry(t *testing.T) {
	c := NewController(testQuotas(), testLogger())
	base := time.Now()
	c.now = func() time.Time { return base }

	d := c.Allow(TierFree, "alice", ClassConversions)
	require.True(t, d.Allowed)
	d = c.Allow(TierFree, "alice", ClassConversions)
	require.False(t, d.Allowed)

	// past the window the slot frees up
	c.now = func() time.Time { return base.Add(61 * time.Second) }
	d = c.Allow(TierFree, "alice", ClassConversions)
	assert.True(t, d.Allowed)
}

func TestIdleWindowsAreSwept(t *testing.T) {
	c := NewController(testQuotas(), testLogger())
	base := time.Now()
	c.now = func() time.Time { return base }

	// a burst of one-off identities, as anonymous IPs produce
	for _, id := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		require.True(t, c.Allow(TierFree, id, ClassRequests).Allowed)
	}

	c.mu.Lock()
	before := len(c.windows)
	c.mu.Unlock()
	require.Equal(t, 3, before)

	// a later request from anyone triggers the sweep of the expired keys
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Allow(TierFree, "198.51.100.9", ClassRequests)

	c.mu.Lock()
	after := len(c.windows)
	c.mu.Unlock()
	assert.Equal(t, 1, after, "expired identities must not accumulate")
}

func TestConcurrencyCeiling(t *testing.T) {
	c := NewController(testQuotas(), testLogger())

	release1, err := c.BeginConcurrent(TierFree, "alice")
	require.NoError(t, err)

	// ceiling is 1: the second concurrent request is rejected, not queued
	_, err = c.BeginConcurrent(TierFree, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConcurrencyLimited)

	// after the first completes, admission resumes
	release1()
	release2, err := c.BeginConcurrent(TierFree, "alice")
	require.NoError(t, err)
	release2()
}

func TestConcurrencyReleaseIsIdempotent(t *testing.T) {
	c := NewController(testQuotas(), testLogger())

	release, err := c.BeginConcurrent(TierFree, "alice")
	require.NoError(t, err)

	// double release must not let the counter go negative
	release()
	release()

	r1, err := c.BeginConcurrent(TierFree, "alice")
	require.NoError(t, err)
	_, err = c.BeginConcurrent(TierFree, "alice")
	assert.ErrorIs(t, err, domain.ErrConcurrencyLimited)
	r1()
}

func TestUnknownTierFallsBackToFree(t *testing.T) {
	c := NewController(testQuotas(), testLogger())

	q := c.QuotaFor(Tier("mystery"))
	assert.Equal(t, 1, q.MaxConcurrent)
}
