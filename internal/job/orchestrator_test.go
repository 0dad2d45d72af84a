package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okuzmin/vectorize-api/internal/converter"
	"github.com/okuzmin/vectorize-api/internal/domain"
	"github.com/okuzmin/vectorize-api/internal/pool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// memBlobs is a minimal in-memory blob store for tests.
type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: map[string][]byte{
		"inputs/cat.png": []byte("fake png bytes"),
	}}
}

func (m *memBlobs) Fetch(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: blob %q", domain.ErrNotFound, ref)
	}
	return b, nil
}

func (m *memBlobs) Save(ctx context.Context, ref string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = data
	return nil
}

func (m *memBlobs) Size(ctx context.Context, ref string) (int64, error) {
	b, err := m.Fetch(ctx, ref)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

func (m *memBlobs) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, ref)
	return nil
}

// scriptedCapability drives the orchestrator through arbitrary converter
// behavior.
type scriptedCapability struct {
	name      string
	available bool
	fieldErrs []converter.FieldError
	convertFn func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error)
}

func (c *scriptedCapability) Name() string      { return c.name }
func (c *scriptedCapability) IsAvailable() bool { return c.available }
func (c *scriptedCapability) Validate(params map[string]string) []converter.FieldError {
	return c.fieldErrs
}
func (c *scriptedCapability) Convert(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
	if c.convertFn != nil {
		return c.convertFn(ctx, inputRef, params, onProgress)
	}
	return &converter.Result{ResultRef: "results/out.svg"}, nil
}
func (c *scriptedCapability) EstimateTime(sizeBytes int64, params map[string]string) time.Duration {
	return 3 * time.Second
}

func newTestOrchestrator(t *testing.T, caps ...converter.Capability) *Orchestrator {
	t.Helper()
	registry := converter.NewRegistry()
	for _, c := range caps {
		registry.Register(c)
	}
	o := NewOrchestrator(registry, NewMemoryStore(), newMemBlobs(), NewNotifier(testLogger()), nil, testLogger())
	t.Cleanup(o.Stop)
	return o
}

func waitForTerminal(t *testing.T, o *Orchestrator, id uuid.UUID) *domain.Job {
	t.Helper()
	var snap *domain.Job
	require.Eventually(t, func() bool {
		j, err := o.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		snap = j
		return j.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestCreateJobUnknownMethod(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.CreateJob(context.Background(), "inputs/cat.png", "unknown", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateJobUnavailableMethod(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{name: "potrace", available: false})

	_, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestCreateJobInvalidParameters(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{
		name:      "potrace",
		available: true,
		fieldErrs: []converter.FieldError{{Field: "bogus", Message: "parameter not supported"}},
	})

	_, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", map[string]string{"bogus": "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
	assert.Contains(t, err.Error(), "bogus")
}

func TestCreateJobReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	o := newTestOrchestrator(t, &scriptedCapability{
		name:      "potrace",
		available: true,
		convertFn: func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
			<-release
			return &converter.Result{ResultRef: "results/out.svg"}, nil
		},
	})

	start := time.Now()
	j, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, domain.JobStatusPending, j.Status)
	assert.Positive(t, j.EstimatedDurationMs)
	close(release)
}

func TestCreateJobSnapshotIsDetached(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{name: "potrace", available: true})

	j, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, j.Status)
	assert.Nil(t, j.StartedAt)

	waitForTerminal(t, o, j.ID)

	// the snapshot handed back at creation never observes the execution
	// goroutine's writes
	assert.Equal(t, domain.JobStatusPending, j.Status)
	assert.Nil(t, j.StartedAt)
}

func TestJobCompletesWithProgress(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{
		name:      "potrace",
		available: true,
		convertFn: func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
			onProgress(25)
			onProgress(100)
			return &converter.Result{
				ResultRef: "results/cat.svg",
				Metrics:   map[string]any{"paths": 17},
			}, nil
		},
	})

	j, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)

	final := waitForTerminal(t, o, j.ID)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, "results/cat.svg", final.ResultRef)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, 17, final.Metrics["paths"])
}

func TestJobFailureIsNormalized(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{
		name:      "potrace",
		available: true,
		convertFn: func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
			onProgress(40)
			return nil, fmt.Errorf("run potrace: %w", context.DeadlineExceeded)
		},
	})

	j, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)

	final := waitForTerminal(t, o, j.ID)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.Equal(t, converter.CategoryTimeout, final.Error)
	assert.Equal(t, 40, final.Progress, "progress frozen at last observed value")
	assert.NotNil(t, final.CompletedAt)
}

func TestCancelProcessingJob(t *testing.T) {
	started := make(chan struct{})
	o := newTestOrchestrator(t, &scriptedCapability{
		name:      "potrace",
		available: true,
		convertFn: func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	j, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("converter never started")
	}

	o.CancelJob(context.Background(), j.ID)

	final := waitForTerminal(t, o, j.ID)
	assert.Equal(t, domain.JobStatusCancelled, final.Status)
	assert.NotNil(t, final.CompletedAt)
}

func TestCancelTerminalJobIsNoOp(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{name: "potrace", available: true})

	j, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)
	final := waitForTerminal(t, o, j.ID)
	require.Equal(t, domain.JobStatusCompleted, final.Status)

	o.CancelJob(context.Background(), j.ID)

	again, err := o.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, again.Status)
}

func TestCancelUnknownJobIsNoOp(t *testing.T) {
	o := newTestOrchestrator(t)
	// must not panic or error
	o.CancelJob(context.Background(), uuid.New())
}

func TestProgressNotificationsPreserveOrder(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{
		name:      "potrace",
		available: true,
		convertFn: func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
			for _, p := range []int{10, 30, 60, 90} {
				onProgress(p)
			}
			return &converter.Result{ResultRef: "results/out.svg"}, nil
		},
	})

	var mu sync.Mutex
	progress := make(map[uuid.UUID][]int)
	o.notifier.Register(ObserverFunc(func(ev Event) {
		mu.Lock()
		progress[ev.Job.ID] = append(progress[ev.Job.ID], ev.Job.Progress)
		mu.Unlock()
	}))

	j, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)
	waitForTerminal(t, o, j.ID)

	mu.Lock()
	seen := progress[j.ID]
	mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1],
			"per-job notifications must arrive in non-decreasing progress order")
	}
	assert.Equal(t, 100, seen[len(seen)-1])
}

func TestConcurrentProgressNotificationsStayOrdered(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{
		name:      "potrace",
		available: true,
		convertFn: func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
			// progress may arrive from any goroutine
			var wg sync.WaitGroup
			for _, p := range []int{5, 15, 25, 35, 45, 55, 65, 75, 85, 95} {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					onProgress(p)
				}(p)
			}
			wg.Wait()
			return &converter.Result{ResultRef: "results/out.svg"}, nil
		},
	})

	var mu sync.Mutex
	var seen []int
	o.notifier.Register(ObserverFunc(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Job.Progress)
		mu.Unlock()
	}))

	j, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)
	waitForTerminal(t, o, j.ID)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1],
			"observers must never see progress move backwards")
	}
}

type countingSlotFactory struct {
	next int64
}

func (f *countingSlotFactory) Create(ctx context.Context) (int, error) {
	return int(atomic.AddInt64(&f.next, 1)), nil
}
func (f *countingSlotFactory) Destroy(int) error { return nil }
func (f *countingSlotFactory) Validate(int) bool { return true }

func TestSlotAcquireTimeoutFailsJob(t *testing.T) {
	release := make(chan struct{})
	registry := converter.NewRegistry()
	registry.Register(&scriptedCapability{
		name:      "potrace",
		available: true,
		convertFn: func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
			<-release
			return &converter.Result{ResultRef: "results/out.svg"}, nil
		},
	})

	slots := pool.New[int](&countingSlotFactory{}, pool.Policy{
		Max:            1,
		AcquireTimeout: 50 * time.Millisecond,
		CreateTimeout:  time.Second,
	}, testLogger())
	t.Cleanup(slots.Drain)

	o := NewOrchestrator(registry, NewMemoryStore(), newMemBlobs(), NewNotifier(testLogger()), slots, testLogger())
	t.Cleanup(func() {
		close(release)
		o.Stop()
	})

	first, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return slots.Stats().InUse == 1
	}, time.Second, 5*time.Millisecond, "first job must hold the only slot")

	second, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)

	// the first job holds the only slot, so the second's acquire times out
	final := waitForTerminal(t, o, second.ID)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.Equal(t, converter.CategoryTimeout, final.Error)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, int64(1), o.Stats().Failed)

	held, err := o.GetJob(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, held.Status)
}

func TestListJobsFor(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedCapability{name: "potrace", available: true})

	j1, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)
	j2, err := o.CreateJob(context.Background(), "inputs/cat.png", "potrace", nil)
	require.NoError(t, err)
	waitForTerminal(t, o, j1.ID)
	waitForTerminal(t, o, j2.ID)

	jobs, err := o.ListJobsFor(context.Background(), "inputs/cat.png")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = o.ListJobsFor(context.Background(), "inputs/other.png")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestStatsCounters(t *testing.T) {
	o := newTestOrchestrator(t,
		&scriptedCapability{name: "ok", available: true},
		&scriptedCapability{
			name:      "bad",
			available: true,
			convertFn: func(ctx context.Context, inputRef string, params map[string]string, onProgress converter.ProgressFunc) (*converter.Result, error) {
				return nil, errors.New("boom")
			},
		},
	)

	j1, err := o.CreateJob(context.Background(), "inputs/cat.png", "ok", nil)
	require.NoError(t, err)
	j2, err := o.CreateJob(context.Background(), "inputs/cat.png", "bad", nil)
	require.NoError(t, err)
	waitForTerminal(t, o, j1.ID)
	waitForTerminal(t, o, j2.ID)

	require.Eventually(t, func() bool {
		return o.Stats().Active == 0
	}, time.Second, 5*time.Millisecond)

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}
