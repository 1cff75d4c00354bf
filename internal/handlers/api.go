package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/models"
)

// APIHandler serves the system endpoints.
type APIHandler struct {
	logger arbor.ILogger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(logger arbor.ILogger) *APIHandler {
	return &APIHandler{logger: logger}
}

// HealthHandler handles GET /api/health.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": common.GetVersion(),
	})
}

// VersionHandler handles GET /api/version.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// NotFoundHandler is the fallback for unmatched API routes.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, &models.APIError{Code: "NOT_FOUND", Message: "not found", Status: http.StatusNotFound})
}
