package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/subfetch/subfetch/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, &models.APIError{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "method not allowed",
			Status:  http.StatusMethodNotAllowed,
		})
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes the {code, message} error envelope.
func WriteError(w http.ResponseWriter, apiErr *models.APIError) error {
	return WriteJSON(w, apiErr.Status, apiErr)
}

// WriteServiceError maps any service error onto the error envelope.
func WriteServiceError(w http.ResponseWriter, err error) error {
	return WriteError(w, models.AsAPIError(err))
}

// GetPaginationParams extracts offset and limit from the query string.
func GetPaginationParams(r *http.Request) (offset, limit int) {
	limit = 50
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return offset, limit
}
