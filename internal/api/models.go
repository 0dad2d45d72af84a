package api

import (
	"time"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// Common request/response structures

// ConvertRequest defines the payload for creating a conversion job.
type ConvertRequest struct {
	InputRef   string            `json:"input_ref"  validate:"required,min=1,max=512"`
	Method     string            `json:"method"     validate:"required,min=1,max=64"`
	Parameters map[string]string `json:"parameters" validate:"omitempty,max=32"`
}

// ConvertAcceptedResponse is the 202 payload returned when a job is accepted.
type ConvertAcceptedResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	StatusURL       string `json:"status_url"`
	EstimatedTimeMs int64  `json:"estimated_time_ms,omitempty"`
}

// BatchConvertRequest defines the payload for fan-out job creation.
type BatchConvertRequest struct {
	Jobs []ConvertRequest `json:"jobs" validate:"required,min=1,max=20,dive"`
}

// BatchItemResponse is one outcome in a batch response: either an accepted
// job or a per-item error.
type BatchItemResponse struct {
	Job   *ConvertAcceptedResponse `json:"job,omitempty"`
	Error string                   `json:"error,omitempty"`
	Kind  string                   `json:"kind,omitempty"`
}

// BatchConvertResponse is the fan-out creation result, in request order.
type BatchConvertResponse struct {
	Jobs []BatchItemResponse `json:"jobs"`
}

// JobResponse is the externally visible job snapshot.
type JobResponse struct {
	ID                  string            `json:"id"`
	InputRef            string            `json:"input_ref"`
	Method              string            `json:"method"`
	Parameters          map[string]string `json:"parameters,omitempty"`
	Status              string            `json:"status"`
	Progress            int               `json:"progress"`
	CreatedAt           time.Time         `json:"created_at"`
	StartedAt           *time.Time        `json:"started_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	EstimatedDurationMs int64             `json:"estimated_duration_ms,omitempty"`
	Error               string            `json:"error,omitempty"`
	ResultRef           string            `json:"result_ref,omitempty"`
	Metrics             map[string]any    `json:"metrics,omitempty"`
}

// jobToResponse converts a domain.Job snapshot to its DTO.
func jobToResponse(j *domain.Job) JobResponse {
	return JobResponse{
		ID:                  j.ID.String(),
		InputRef:            j.InputRef,
		Method:              j.Method,
		Parameters:          j.Parameters,
		Status:              string(j.Status),
		Progress:            j.Progress,
		CreatedAt:           j.CreatedAt,
		StartedAt:           j.StartedAt,
		CompletedAt:         j.CompletedAt,
		EstimatedDurationMs: j.EstimatedDurationMs,
		Error:               j.Error,
		ResultRef:           j.ResultRef,
		Metrics:             j.Metrics,
	}
}

// MethodResponse describes one registered converter capability.
type MethodResponse struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// JobListResponse wraps a list of job snapshots.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}
