// -----------------------------------------------------------------------
// Job Handler - REST surface for job submission and lifecycle
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
)

// JobHandler serves the /api/jobs routes.
type JobHandler struct {
	jobs   interfaces.JobService
	auth   interfaces.AuthService
	logger arbor.ILogger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobs interfaces.JobService, auth interfaces.AuthService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{jobs: jobs, auth: auth, logger: logger}
}

type createJobRequest struct {
	Folder   string `json:"folder"`
	Language string `json:"language"`
	LogLevel string `json:"log_level"`
}

// CreateJobHandler handles POST /api/jobs.
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	caller := UserFrom(r.Context())
	if caller == nil {
		WriteError(w, models.ErrUnauthorized("authentication required"))
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, models.ErrInvalidInput("invalid request body: %v", err))
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), caller, req.Folder, req.Language, req.LogLevel)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler handles GET /api/jobs.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	caller := UserFrom(r.Context())
	if caller == nil {
		WriteError(w, models.ErrUnauthorized("authentication required"))
		return
	}

	offset, limit := GetPaginationParams(r)
	jobs, err := h.jobs.ListJobs(r.Context(), caller, offset, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"offset": offset,
		"limit":  limit,
	})
}

// GetJobStatsHandler handles GET /api/jobs/stats.
func (h *JobHandler) GetJobStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := h.jobs.JobStats(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// StreamTokenHandler handles POST /api/jobs/stream-token. The returned token
// authenticates a follow-up WebSocket subscription.
func (h *JobHandler) StreamTokenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	caller := UserFrom(r.Context())
	if caller == nil {
		WriteError(w, models.ErrUnauthorized("authentication required"))
		return
	}

	token, err := h.auth.IssueStreamToken(r.Context(), caller)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JobRoutesHandler dispatches /api/jobs/{id} and its subroutes.
func (h *JobHandler) JobRoutesHandler(w http.ResponseWriter, r *http.Request) {
	caller := UserFrom(r.Context())
	if caller == nil {
		WriteError(w, models.ErrUnauthorized("authentication required"))
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getJob(w, r, caller, parts[0])
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		h.cancelJob(w, r, caller, parts[0])
	case len(parts) == 2 && parts[1] == "retry" && r.Method == http.MethodPost:
		h.retryJob(w, r, caller, parts[0])
	default:
		WriteError(w, &models.APIError{Code: "NOT_FOUND", Message: "not found", Status: http.StatusNotFound})
	}
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request, caller *models.User, id string) {
	job, err := h.jobs.GetJob(r.Context(), caller, id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) cancelJob(w http.ResponseWriter, r *http.Request, caller *models.User, id string) {
	job, err := h.jobs.CancelJob(r.Context(), caller, id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) retryJob(w http.ResponseWriter, r *http.Request, caller *models.User, id string) {
	job, err := h.jobs.RetryJob(r.Context(), caller, id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}
