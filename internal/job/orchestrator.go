// Package job implements the asynchronous conversion job orchestrator: it
// turns an accepted request into a tracked Job with a well-defined state
// machine, dispatches execution to an external converter capability on a
// background goroutine, and records progress, results, and failures.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okuzmin/vectorize-api/internal/converter"
	"github.com/okuzmin/vectorize-api/internal/domain"
	"github.com/okuzmin/vectorize-api/internal/pool"
	"github.com/okuzmin/vectorize-api/internal/storage"
)

// execution is the live tracking record for one in-flight job. Its mutex
// serializes progress callbacks against cancellation for that job only, and
// snapshots are persisted and published under it so observers never see
// transitions out of order.
type execution struct {
	mu     sync.Mutex
	job    *domain.Job
	cancel context.CancelFunc
}

// Orchestrator creates, schedules, and tracks conversion jobs. At most one
// execution is ever in flight per job id: the execution goroutine is started
// exactly once at creation and every later state change goes through the
// job's execution record.
type Orchestrator struct {
	registry *converter.Registry
	store    Store
	blobs    storage.Store
	notifier *Notifier
	slots    *pool.Pool[int]
	logger   *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*execution

	completed int64
	failed    int64
	cancelled int64

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator wires the orchestrator's collaborators. slots may be nil
// when converter concurrency is unbounded.
func NewOrchestrator(
	registry *converter.Registry,
	store Store,
	blobs storage.Store,
	notifier *Notifier,
	slots *pool.Pool[int],
	logger *slog.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		registry: registry,
		store:    store,
		blobs:    blobs,
		notifier: notifier,
		slots:    slots,
		logger:   logger.With("component", "orchestrator"),
		active:   make(map[uuid.UUID]*execution),
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// CreateJob validates the requested method and parameters, persists a new
// pending Job, and schedules asynchronous execution. It returns as soon as
// the job is persisted; it never blocks on the conversion itself.
func (o *Orchestrator) CreateJob(ctx context.Context, inputRef, method string, parameters map[string]string) (*domain.Job, error) {
	cap, ok := o.registry.Get(method)
	if !ok {
		return nil, fmt.Errorf("%w: conversion method %q", domain.ErrNotFound, method)
	}
	if !cap.IsAvailable() {
		return nil, fmt.Errorf("%w: conversion method %q", domain.ErrUnavailable, method)
	}
	if fieldErrs := cap.Validate(parameters); len(fieldErrs) > 0 {
		details := make([]string, len(fieldErrs))
		for i, fe := range fieldErrs {
			details[i] = fe.Field + ": " + fe.Message
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidParameters, strings.Join(details, "; "))
	}

	j := domain.NewJob(inputRef, method, parameters)

	// best-effort estimate; a missing size only loses the hint
	if size, err := o.blobs.Size(ctx, inputRef); err == nil {
		j.EstimatedDurationMs = cap.EstimateTime(size, parameters).Milliseconds()
	}

	if err := o.store.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	e := &execution{job: j}
	o.mu.Lock()
	o.active[j.ID] = e
	o.mu.Unlock()

	// Snapshot before the execution goroutine exists. Once it is launched
	// every access to the job goes through e.mu.
	snap := j.Snapshot()

	o.wg.Add(1)
	go o.run(e, cap)

	o.logger.Info("job created",
		"job_id", j.ID,
		"method", method,
		"input_ref", inputRef)

	return snap, nil
}

// GetJob returns the current snapshot for an id, or domain.ErrNotFound.
func (o *Orchestrator) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return o.store.Get(ctx, id)
}

// ListJobsFor returns all jobs referencing an input, newest first.
func (o *Orchestrator) ListJobsFor(ctx context.Context, inputRef string) ([]*domain.Job, error) {
	return o.store.ListByInput(ctx, inputRef)
}

// CancelJob transitions a processing job to cancelled and signals the
// converter's context. Cancelling a job that is not processing, or does not
// exist, is a no-op, not an error. Cancellation is cooperative: the external
// tool honors the context if it can.
func (o *Orchestrator) CancelJob(ctx context.Context, id uuid.UUID) {
	o.mu.Lock()
	e, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	changed := e.job.Cancel(time.Now().UTC())
	if changed {
		o.persistAndNotify(e.job.Snapshot())
	}
	cancel := e.cancel
	e.mu.Unlock()

	if !changed {
		return
	}

	atomic.AddInt64(&o.cancelled, 1)
	if cancel != nil {
		cancel()
	}
	o.logger.Info("job cancelled", "job_id", id)
}

// run executes one job to a terminal state. It owns the job's only execution.
func (o *Orchestrator) run(e *execution, cap converter.Capability) {
	defer o.wg.Done()

	jobCtx, cancel := context.WithCancel(o.baseCtx)
	defer cancel()

	// Every snapshot is persisted and published while e.mu is held so the
	// store and observers see state transitions in the order they happened.
	e.mu.Lock()
	e.cancel = cancel
	started := e.job.Start(time.Now().UTC())
	var inputRef string
	var params map[string]string
	if started {
		inputRef = e.job.InputRef
		params = e.job.Parameters
		o.persistAndNotify(e.job.Snapshot())
	}
	jobID := e.job.ID
	e.mu.Unlock()

	// a cancel raced in before scheduling; nothing to execute
	if !started {
		o.finish(jobID)
		return
	}

	logger := o.logger.With("job_id", jobID, "method", cap.Name())
	logger.Info("job processing")

	if o.slots != nil {
		slot, err := o.slots.Acquire(jobCtx)
		if err != nil {
			o.completeFailure(e, logger, err)
			o.finish(jobID)
			return
		}
		defer o.slots.Release(slot)
	}

	onProgress := func(pct int) {
		e.mu.Lock()
		if e.job.SetProgress(pct) {
			o.persistAndNotify(e.job.Snapshot())
		}
		e.mu.Unlock()
	}

	result, err := cap.Convert(jobCtx, inputRef, params, onProgress)

	now := time.Now().UTC()
	e.mu.Lock()
	var terminal *domain.Job
	switch {
	case e.job.Status != domain.JobStatusProcessing:
		// cancelled while converting; the converter's outcome is moot
	case err != nil:
		e.job.Fail(now, converter.Normalize(err))
		terminal = e.job.Snapshot()
	default:
		e.job.Complete(now, result.ResultRef, result.Metrics)
		terminal = e.job.Snapshot()
	}
	if terminal != nil {
		o.persistAndNotify(terminal)
	}
	e.mu.Unlock()

	if terminal != nil {
		switch terminal.Status {
		case domain.JobStatusCompleted:
			atomic.AddInt64(&o.completed, 1)
			logger.Info("job completed",
				"result_ref", terminal.ResultRef,
				"duration", terminal.CompletedAt.Sub(*terminal.StartedAt).String())
		case domain.JobStatusFailed:
			atomic.AddInt64(&o.failed, 1)
			logger.Warn("job failed", "error", err, "category", terminal.Error)
		}
	}

	o.finish(jobID)
}

// completeFailure records a terminal failure for a job whose converter never
// ran, such as a slot acquire timeout or a pool drained at shutdown. A cancel
// that already won the race leaves the job cancelled.
func (o *Orchestrator) completeFailure(e *execution, logger *slog.Logger, err error) {
	category := converter.Normalize(err)

	e.mu.Lock()
	failed := e.job.Fail(time.Now().UTC(), category)
	if failed {
		o.persistAndNotify(e.job.Snapshot())
	}
	e.mu.Unlock()

	if failed {
		atomic.AddInt64(&o.failed, 1)
		logger.Warn("job failed", "error", err, "category", category)
	}
}

// finish drops a job from the active-work index; the store still has it.
func (o *Orchestrator) finish(id uuid.UUID) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

func (o *Orchestrator) persistAndNotify(snap *domain.Job) {
	if err := o.store.Save(context.Background(), snap); err != nil {
		o.logger.Error("failed to persist job snapshot", "job_id", snap.ID, "error", err)
	}
	o.notifier.Publish(Event{Job: snap})
}

// Stats reports orchestrator counters for the stats endpoint.
type Stats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Stats returns a snapshot of orchestrator counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	active := len(o.active)
	o.mu.Unlock()
	return Stats{
		Active:    active,
		Completed: atomic.LoadInt64(&o.completed),
		Failed:    atomic.LoadInt64(&o.failed),
		Cancelled: atomic.LoadInt64(&o.cancelled),
	}
}

// Stop cancels all in-flight executions and waits for their goroutines to
// settle. Used at shutdown.
func (o *Orchestrator) Stop() {
	o.stop()
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}
