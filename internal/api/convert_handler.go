package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/okuzmin/vectorize-api/internal/api/shared"
	"github.com/okuzmin/vectorize-api/internal/converter"
	"github.com/okuzmin/vectorize-api/internal/domain"
	"github.com/okuzmin/vectorize-api/internal/job"
	"github.com/okuzmin/vectorize-api/internal/respcache"
	"github.com/okuzmin/vectorize-api/internal/storage"
)

// ConvertHandler handles conversion job HTTP requests.
type ConvertHandler struct {
	orchestrator *job.Orchestrator
	registry     *converter.Registry
	blobs        storage.Store
	validators   *respcache.Validators
	validator    *validator.Validate
	logger       *slog.Logger
}

// NewConvertHandler creates a new ConvertHandler.
func NewConvertHandler(
	orchestrator *job.Orchestrator,
	registry *converter.Registry,
	blobs storage.Store,
	validators *respcache.Validators,
	logger *slog.Logger,
) *ConvertHandler {
	return &ConvertHandler{
		orchestrator: orchestrator,
		registry:     registry,
		blobs:        blobs,
		validators:   validators,
		validator:    validator.New(),
		logger:       logger.With("component", "convert_handler"),
	}
}

// StatusPath returns the status resource path for a job id.
func StatusPath(id uuid.UUID) string {
	return fmt.Sprintf("/api/convert/%s/status", id)
}

// CreateJob handles POST /api/convert requests. The job is accepted and
// scheduled; conversion happens asynchronously.
func (h *ConvertHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "validation", "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "validation", SanitizeValidationError(err))
		return
	}
	if err := storage.ValidateRef(req.InputRef); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "validation", "Invalid input reference")
		return
	}

	created, err := h.orchestrator.CreateJob(r.Context(), req.InputRef, req.Method, req.Parameters)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	statusURL := StatusPath(created.ID)
	w.Header().Set("Location", statusURL)
	shared.RespondWithJSON(w, r, http.StatusAccepted, ConvertAcceptedResponse{
		ID:              created.ID.String(),
		Status:          string(created.Status),
		StatusURL:       statusURL,
		EstimatedTimeMs: created.EstimatedDurationMs,
	})
}

// CreateBatch handles POST /api/convert/batch requests, fanning out job
// creation. Items fail independently; the batch itself is always 202 when
// the payload parses.
func (h *ConvertHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchConvertRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "validation", "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "validation", SanitizeValidationError(err))
		return
	}

	resp := BatchConvertResponse{Jobs: make([]BatchItemResponse, len(req.Jobs))}
	for i, item := range req.Jobs {
		if err := storage.ValidateRef(item.InputRef); err != nil {
			resp.Jobs[i] = BatchItemResponse{Error: "Invalid input reference", Kind: "validation"}
			continue
		}
		created, err := h.orchestrator.CreateJob(r.Context(), item.InputRef, item.Method, item.Parameters)
		if err != nil {
			resp.Jobs[i] = BatchItemResponse{
				Error: GetSafeErrorMessage(err),
				Kind:  domain.ErrorKind(err),
			}
			continue
		}
		statusURL := StatusPath(created.ID)
		resp.Jobs[i] = BatchItemResponse{Job: &ConvertAcceptedResponse{
			ID:              created.ID.String(),
			Status:          string(created.Status),
			StatusURL:       statusURL,
			EstimatedTimeMs: created.EstimatedDurationMs,
		}}
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, resp)
}

// GetStatus handles GET /api/convert/{id}/status requests. The response
// carries a strong ETag; conditional revalidation is answered by the
// conditional-request middleware from the validator registry this handler
// keeps current.
func (h *ConvertHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.orchestrator.GetJob(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	etag := respcache.MakeETag(snapshot.ID.String(), snapshot.Version())
	h.validators.Register(StatusPath(id), respcache.Validator{ETag: etag})
	w.Header().Set("ETag", etag)

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(snapshot))
}

// GetResult handles GET /api/convert/{id}/result requests, streaming the
// binary result once the job has completed.
func (h *ConvertHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.orchestrator.GetJob(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if snapshot.Status != domain.JobStatusCompleted {
		shared.RespondWithError(w, r, http.StatusConflict, "conflict",
			fmt.Sprintf("Job is %s, result is only available once completed", snapshot.Status))
		return
	}

	data, err := h.blobs.Fetch(r.Context(), snapshot.ResultRef)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write result body", "job_id", id, "error", err)
	}
}

// CancelJob handles DELETE /api/convert/{id} requests. Cancelling a job that
// is not processing, or does not exist, is a no-op per contract, so the
// response is always 204.
func (h *ConvertHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	h.orchestrator.CancelJob(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs handles GET /api/convert?input=<ref> requests.
func (h *ConvertHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	inputRef := r.URL.Query().Get("input")
	if inputRef == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "validation", "Missing input query parameter")
		return
	}

	jobs, err := h.orchestrator.ListJobsFor(r.Context(), inputRef)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = jobToResponse(j)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// ListMethods handles GET /api/methods requests, listing registered
// converter capabilities and their availability.
func (h *ConvertHandler) ListMethods(w http.ResponseWriter, r *http.Request) {
	caps := h.registry.List()
	resp := make([]MethodResponse, len(caps))
	for i, c := range caps {
		resp[i] = MethodResponse{Name: c.Name(), Available: c.IsAvailable()}
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Name < resp[j].Name })
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// jobID parses the {id} route parameter, responding with 404 on malformed
// ids so unknown and malformed ids are indistinguishable to callers.
func (h *ConvertHandler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "not_found", "Job not found")
		return uuid.Nil, false
	}
	return id, true
}
