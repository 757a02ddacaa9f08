package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    Code
		message string
	}{
		{"not found", fmt.Errorf("%w: role not found", shared.ErrNotFound), http.StatusNotFound, CodeNotFound, "role not found"},
		{"validation", shared.NewValidationError("location id is required"), http.StatusBadRequest, CodeValidationFailed, "location id is required"},
		{"tenant isolation", shared.NewTenantIsolationError("location belongs to another organization"), http.StatusForbidden, CodeTenantIsolation, "location belongs to another organization"},
		{"conflict", fmt.Errorf("%w: role has active assignments", shared.ErrConflict), http.StatusConflict, CodeConflict, "role has active assignments"},
		{"forbidden", fmt.Errorf("%w: system roles are immutable", shared.ErrForbidden), http.StatusForbidden, CodeForbidden, "system roles are immutable"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, CodeInternalError, "An internal error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.message, got.Message)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, FromError(nil))
	conflict := Conflict("taken")
	assert.Same(t, conflict, FromError(fmt.Errorf("wrapped: %w", conflict)))
}

func TestDenied_WriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Denied("location_denied", "no access to this location").WriteJSONWithRequestID(rec, "req-1")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FORBIDDEN", body["code"])
	assert.Equal(t, "location_denied", body["reason"])
	assert.Equal(t, "no access to this location", body["message"])
}
