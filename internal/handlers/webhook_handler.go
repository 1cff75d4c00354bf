// -----------------------------------------------------------------------
// Webhook Handler - unattended job submission from media automation
// -----------------------------------------------------------------------

package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
)

// WebhookHandler accepts job submissions authenticated by a shared secret
// instead of a user credential. Download automation (Radarr, Sonarr and the
// like) posts here when new media lands.
type WebhookHandler struct {
	jobs   interfaces.JobService
	secret string
	logger arbor.ILogger
}

// NewWebhookHandler creates a new webhook handler. An empty secret disables
// the endpoint entirely.
func NewWebhookHandler(jobs interfaces.JobService, secret string, logger arbor.ILogger) *WebhookHandler {
	return &WebhookHandler{jobs: jobs, secret: secret, logger: logger}
}

type webhookRequest struct {
	Folder   string `json:"folder"`
	Language string `json:"language"`
}

// WebhookHandler handles POST /api/jobs/webhook.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.secret == "" {
		WriteError(w, models.ErrForbidden("webhook endpoint is disabled"))
		return
	}

	provided := r.Header.Get("X-Webhook-Secret")
	// Constant-time comparison so response timing leaks nothing about the
	// secret.
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Webhook request with bad secret")
		WriteError(w, models.ErrUnauthorized("invalid webhook secret"))
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, models.ErrInvalidInput("invalid request body: %v", err))
		return
	}

	// Webhook jobs run under the service account and still go through the
	// allow-list; the shared secret authenticates the caller, not the path.
	caller := &models.User{ID: models.ServiceAccountID, Name: "Webhook"}
	job, err := h.jobs.CreateJob(r.Context(), caller, req.Folder, req.Language, "info")
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("job_id", job.ID).Str("folder", job.Folder).Msg("Webhook job submitted")
	WriteJSON(w, http.StatusCreated, job)
}
