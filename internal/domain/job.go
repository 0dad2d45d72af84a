package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a conversion job.
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions may leave this status.
// A pending job that was never scheduled is not terminal, but the only
// transition out of it is to processing.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is a tracked unit of asynchronous conversion work. It is created and
// owned by the orchestrator; everything outside references it by ID only.
type Job struct {
	ID         uuid.UUID         `json:"id"`
	InputRef   string            `json:"input_ref"`
	Method     string            `json:"method"`
	Parameters map[string]string `json:"parameters,omitempty"`

	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`

	CreatedAt           time.Time      `json:"created_at"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	EstimatedDurationMs int64          `json:"estimated_duration_ms,omitempty"`
	Error               string         `json:"error,omitempty"`
	ResultRef           string         `json:"result_ref,omitempty"`
	Metrics             map[string]any `json:"metrics,omitempty"`
}

// NewJob creates a Job in the pending state.
func NewJob(inputRef, method string, parameters map[string]string) *Job {
	return &Job{
		ID:         uuid.New(),
		InputRef:   inputRef,
		Method:     method,
		Parameters: parameters,
		Status:     JobStatusPending,
		Progress:   0,
		CreatedAt:  time.Now().UTC(),
	}
}

// Start transitions the job from pending to processing. Returns false if the
// job is not pending.
func (j *Job) Start(now time.Time) bool {
	if j.Status != JobStatusPending {
		return false
	}
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.Progress = 0
	return true
}

// SetProgress records a progress update. Updates are only legal while the job
// is processing; the value is clamped to [0,100] and never moves backwards.
func (j *Job) SetProgress(p int) bool {
	if j.Status != JobStatusProcessing {
		return false
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p < j.Progress {
		return false
	}
	j.Progress = p
	return true
}

// Complete transitions a processing job to completed and pins progress at 100.
func (j *Job) Complete(now time.Time, resultRef string, metrics map[string]any) bool {
	if j.Status != JobStatusProcessing {
		return false
	}
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.ResultRef = resultRef
	j.Metrics = metrics
	j.CompletedAt = &now
	return true
}

// Fail transitions a processing job to failed. The message must already be
// normalized to a user-safe category; progress is frozen at its last value.
func (j *Job) Fail(now time.Time, message string) bool {
	if j.Status != JobStatusProcessing {
		return false
	}
	j.Status = JobStatusFailed
	j.Error = message
	j.CompletedAt = &now
	return true
}

// Cancel transitions a processing job to cancelled. Cancelling a job in any
// other state is a no-op, not an error.
func (j *Job) Cancel(now time.Time) bool {
	if j.Status != JobStatusProcessing {
		return false
	}
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	return true
}

// Snapshot returns a copy of the job safe to hand to callers. Parameters and
// metrics maps are shallow-copied so later mutation by the owner does not
// race with readers.
func (j *Job) Snapshot() *Job {
	cp := *j
	if j.Parameters != nil {
		cp.Parameters = make(map[string]string, len(j.Parameters))
		for k, v := range j.Parameters {
			cp.Parameters[k] = v
		}
	}
	if j.Metrics != nil {
		cp.Metrics = make(map[string]any, len(j.Metrics))
		for k, v := range j.Metrics {
			cp.Metrics[k] = v
		}
	}
	return &cp
}

// Version is a monotonically increasing revision string for conditional
// requests: it changes whenever the externally visible state changes.
func (j *Job) Version() string {
	return string(j.Status) + "-" + strconv.Itoa(j.Progress)
}
