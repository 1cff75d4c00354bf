package models

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the error envelope returned to clients as {code, message}.
// Status is the HTTP status to respond with; it is not serialized.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsAPIError unwraps err into an APIError, or wraps it as an internal one.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal(err)
}

func ErrInvalidInput(format string, args ...interface{}) *APIError {
	return &APIError{Code: "INVALID_INPUT", Message: fmt.Sprintf(format, args...), Status: http.StatusBadRequest}
}

func ErrUnauthorizedPath(folder string) *APIError {
	return &APIError{Code: "UNAUTHORIZED_PATH", Message: fmt.Sprintf("folder is not on the allow-list: %s", folder), Status: http.StatusForbidden}
}

func ErrPathNotFound(folder string) *APIError {
	return &APIError{Code: "PATH_NOT_FOUND", Message: fmt.Sprintf("folder does not exist: %s", folder), Status: http.StatusNotFound}
}

func ErrJobNotFoundAPI(id string) *APIError {
	return &APIError{Code: "NOT_FOUND", Message: fmt.Sprintf("job not found: %s", id), Status: http.StatusNotFound}
}

func ErrJobNotCancellable(id string, status JobStatus) *APIError {
	return &APIError{Code: "JOB_NOT_CANCELLABLE", Message: fmt.Sprintf("job %s is %s and cannot be cancelled", id, status), Status: http.StatusBadRequest}
}

func ErrJobNotRetriable(id string, status JobStatus) *APIError {
	return &APIError{Code: "JOB_NOT_RETRIABLE", Message: fmt.Sprintf("job %s is %s and cannot be retried", id, status), Status: http.StatusBadRequest}
}

func ErrUnauthorized(message string) *APIError {
	return &APIError{Code: "UNAUTHORIZED", Message: message, Status: http.StatusUnauthorized}
}

func ErrForbidden(message string) *APIError {
	return &APIError{Code: "FORBIDDEN", Message: message, Status: http.StatusForbidden}
}

func ErrInternal(err error) *APIError {
	return &APIError{Code: "INTERNAL", Message: err.Error(), Status: http.StatusInternalServerError}
}
