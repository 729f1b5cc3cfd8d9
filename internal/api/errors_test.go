package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-hoffmann/labrange/internal/catalog"
	"github.com/d-hoffmann/labrange/internal/docker"
	"github.com/d-hoffmann/labrange/internal/instance"
	"github.com/d-hoffmann/labrange/internal/store"
)

func TestWriteAPIError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"instance not found", instance.ErrNotFound, http.StatusNotFound, ErrCodeInstanceNotFound},
		{"store not found", store.ErrNotFound, http.StatusNotFound, ErrCodeInstanceNotFound},
		{"unknown lab", catalog.ErrUnknownLab, http.StatusNotFound, ErrCodeLabNotFound},
		{"ownership", instance.ErrOwnership, http.StatusForbidden, ErrCodeNotOwner},
		{"concurrency limit", instance.ErrConcurrencyLimit, http.StatusTooManyRequests, ErrCodeConcurrencyLimit},
		{"image not found", docker.ErrImageNotFound, http.StatusBadGateway, ErrCodeImageNotFound},
		{"runtime unavailable", docker.ErrRuntimeUnavailable, http.StatusServiceUnavailable, ErrCodeRuntimeUnavailable},
		{"resource exhausted", docker.ErrResourceExhausted, http.StatusServiceUnavailable, ErrCodeResourceExhausted},
		{"not attachable", instance.ErrNotAttachable, http.StatusConflict, ErrCodeInstanceNotRunning},
		{"not running", docker.ErrNotRunning, http.StatusConflict, ErrCodeInstanceNotRunning},
		{"unknown error", fmt.Errorf("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAPIError(rec, fmt.Errorf("wrapped: %w", tt.err))

			assert.Equal(t, tt.wantStatus, rec.Code)

			var apiErr APIError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestValidateLabID(t *testing.T) {
	assert.NoError(t, validateLabID("sql-injection-101"))
	assert.Error(t, validateLabID(""))
	assert.Error(t, validateLabID("x"))
	assert.Error(t, validateLabID("-leading-hyphen"))
	assert.Error(t, validateLabID("Uppercase"))
}

func TestValidateInstanceID(t *testing.T) {
	assert.NoError(t, validateInstanceID("a1b2c3d4e5f0"))
	assert.NoError(t, validateInstanceID("a1b2c3d4-e5f6-0718"))
	assert.Error(t, validateInstanceID(""))
	assert.Error(t, validateInstanceID("short"))
	assert.Error(t, validateInstanceID("../../etc/passwd"))
}
