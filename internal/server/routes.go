package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/stats", s.requireUser(s.app.JobHandler.GetJobStatsHandler))
	mux.HandleFunc("/api/jobs/stream-token", s.requireUser(s.app.JobHandler.StreamTokenHandler))
	mux.HandleFunc("/api/jobs/webhook", s.app.WebhookHandler.Handle) // shared-secret auth, no bearer
	mux.HandleFunc("/api/jobs", s.requireUser(s.handleJobsCollection))
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // /{id}, /{id}/cancel, /{id}/retry, /{id}/logs

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsCollection routes /api/jobs by method.
func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes job-related requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	// WebSocket log streams authenticate with a stream token in the query
	// string, not a bearer header.
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/logs") {
		s.app.LogStreamHandler.Handle(w, r)
		return
	}

	s.requireUser(s.app.JobHandler.JobRoutesHandler)(w, r)
}
