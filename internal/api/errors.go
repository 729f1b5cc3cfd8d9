package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/d-hoffmann/labrange/internal/catalog"
	"github.com/d-hoffmann/labrange/internal/docker"
	"github.com/d-hoffmann/labrange/internal/instance"
	"github.com/d-hoffmann/labrange/internal/store"
)

// Error codes returned in API responses
const (
	ErrCodeInstanceNotFound    = "INSTANCE_NOT_FOUND"
	ErrCodeLabNotFound         = "LAB_NOT_FOUND"
	ErrCodeNotOwner            = "NOT_OWNER"
	ErrCodeConcurrencyLimit    = "CONCURRENCY_LIMIT_EXCEEDED"
	ErrCodeImageNotFound       = "IMAGE_NOT_FOUND"
	ErrCodeRuntimeUnavailable  = "RUNTIME_UNAVAILABLE"
	ErrCodeResourceExhausted   = "RESOURCE_EXHAUSTED"
	ErrCodeInstanceNotRunning  = "INSTANCE_NOT_RUNNING"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// writeAPIError maps domain sentinels onto HTTP status + structured body.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, instance.ErrNotFound), errors.Is(err, store.ErrNotFound):
		apiErr = APIError{Code: ErrCodeInstanceNotFound, Message: err.Error()}
		statusCode = http.StatusNotFound

	case errors.Is(err, catalog.ErrUnknownLab):
		apiErr = APIError{Code: ErrCodeLabNotFound, Message: err.Error()}
		statusCode = http.StatusNotFound

	case errors.Is(err, instance.ErrOwnership):
		apiErr = APIError{Code: ErrCodeNotOwner, Message: err.Error()}
		statusCode = http.StatusForbidden

	case errors.Is(err, instance.ErrConcurrencyLimit):
		apiErr = APIError{Code: ErrCodeConcurrencyLimit, Message: err.Error()}
		statusCode = http.StatusTooManyRequests

	case errors.Is(err, docker.ErrImageNotFound):
		apiErr = APIError{Code: ErrCodeImageNotFound, Message: err.Error()}
		statusCode = http.StatusBadGateway

	case errors.Is(err, docker.ErrRuntimeUnavailable):
		apiErr = APIError{Code: ErrCodeRuntimeUnavailable, Message: err.Error()}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, docker.ErrResourceExhausted):
		apiErr = APIError{Code: ErrCodeResourceExhausted, Message: err.Error()}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, instance.ErrNotAttachable), errors.Is(err, docker.ErrNotRunning):
		apiErr = APIError{Code: ErrCodeInstanceNotRunning, Message: err.Error()}
		statusCode = http.StatusConflict

	default:
		apiErr = APIError{Code: ErrCodeInternalError, Message: err.Error()}
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr)
}

// writeValidationError writes a 400 Bad Request.
func writeValidationError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}
