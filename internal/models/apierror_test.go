package models

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAPIErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *APIError
		code   string
		status int
	}{
		{"invalid input", ErrInvalidInput("bad"), "INVALID_INPUT", http.StatusBadRequest},
		{"unauthorized path", ErrUnauthorizedPath("/x"), "UNAUTHORIZED_PATH", http.StatusForbidden},
		{"path not found", ErrPathNotFound("/x"), "PATH_NOT_FOUND", http.StatusNotFound},
		{"job not found", ErrJobNotFoundAPI("j1"), "NOT_FOUND", http.StatusNotFound},
		{"not cancellable", ErrJobNotCancellable("j1", JobStatusSucceeded), "JOB_NOT_CANCELLABLE", http.StatusBadRequest},
		{"not retriable", ErrJobNotRetriable("j1", JobStatusRunning), "JOB_NOT_RETRIABLE", http.StatusBadRequest},
		{"unauthorized", ErrUnauthorized("no"), "UNAUTHORIZED", http.StatusUnauthorized},
		{"forbidden", ErrForbidden("no"), "FORBIDDEN", http.StatusForbidden},
		{"internal", ErrInternal(fmt.Errorf("boom")), "INTERNAL", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
		})
	}
}

func TestAsAPIError(t *testing.T) {
	apiErr := ErrForbidden("no")
	wrapped := fmt.Errorf("handler: %w", apiErr)
	if got := AsAPIError(wrapped); got != apiErr {
		t.Errorf("AsAPIError should unwrap to the original error, got %v", got)
	}

	plain := fmt.Errorf("boom")
	got := AsAPIError(plain)
	if got.Code != "INTERNAL" || got.Status != http.StatusInternalServerError {
		t.Errorf("plain errors map to INTERNAL, got %v", got)
	}
}
