package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/api/shared"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
	"github.com/lin-1259/ai-xiutu/internal/task"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobs      JobService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs JobService, logger *slog.Logger) *JobHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}
	return &JobHandler{
		jobs:      jobs,
		validator: validator.New(),
		logger:    logger.With(slog.String("component", "job_handler")),
	}
}

// SubmitJob handles POST /api/jobs requests
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	job, err := h.jobs.Submit(r.Context(), task.SubmitRequest{
		ImageID:    req.ImageID,
		TemplateID: req.TemplateID,
		SourceName: req.SourceName,
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit job")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("job submitted",
		slog.String("job_id", job.ID.String()),
		slog.String("template_id", job.TemplateID))
	// Processing happens asynchronously
	shared.RespondWithJSON(w, r, http.StatusAccepted, job)
}

// ListJobs handles GET /api/jobs requests
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	jobs, err := h.jobs.Query(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobs)
}

// GetJob handles GET /api/jobs/{id} requests
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, job)
}

// DeleteJob handles DELETE /api/jobs/{id} requests
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.jobs.Delete(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/jobs/stats requests
func (h *JobHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get queue statistics")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// ClearJobs handles POST /api/jobs/clear requests
func (h *JobHandler) ClearJobs(w http.ResponseWriter, r *http.Request) {
	removed, err := h.jobs.ClearTerminal(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to clear jobs")
		return
	}
	resp := ClearJobsResponse{Removed: make([]string, 0, len(removed)), Count: len(removed)}
	for _, id := range removed {
		resp.Removed = append(resp.Removed, id.String())
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// PauseJob handles POST /api/jobs/{id}/pause requests
func (h *JobHandler) PauseJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	paused, err := h.jobs.Pause(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to pause job")
		return
	}
	if !paused {
		HandleAPIError(w, r, task.ErrNotRunning, "")
		return
	}
	h.respondAction(w, r, id, "pause")
}

// ResumeJob handles POST /api/jobs/{id}/resume requests
func (h *JobHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.jobs.Resume(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to resume job")
		return
	}
	h.respondAction(w, r, id, "resume")
}

// CancelJob handles POST /api/jobs/{id}/cancel requests
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.jobs.Cancel(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to cancel job")
		return
	}
	h.respondAction(w, r, id, "cancel")
}

// RetryJob handles POST /api/jobs/{id}/retry requests. It returns the new job.
func (h *JobHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Retry(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, job)
}

// SetConcurrency handles PUT /api/settings/concurrency requests
func (h *JobHandler) SetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req ConcurrencyRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}
	n, err := h.jobs.SetConcurrency(r.Context(), req.Value)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to set concurrency")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ConcurrencyResponse{Value: n})
}

// respondAction reports the job status after a lifecycle operation.
func (h *JobHandler) respondAction(w http.ResponseWriter, r *http.Request, id uuid.UUID, action string) {
	resp := ActionResponse{ID: id.String(), Action: action}
	if job, err := h.jobs.Get(r.Context(), id); err == nil {
		resp.Status = string(job.Status)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

func (h *JobHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Debug("invalid job id in path", "error", err)
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}
