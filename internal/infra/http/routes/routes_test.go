package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/ehrconnect/authz/internal/infra/http"
	"github.com/ehrconnect/authz/internal/infra/http/handler"
	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/jwt"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/validator"
)

type stubAuthorizer struct {
	decision accesscontrol.Decision
	checked  []string
}

func (s *stubAuthorizer) Authorize(_ context.Context, _ accesscontrol.Subject, required string, _ scope.Context, _ accesscontrol.CheckOptions) (accesscontrol.Decision, error) {
	s.checked = append(s.checked, required)
	return s.decision, nil
}

func setup(t *testing.T, decision accesscontrol.Decision) (http.Handler, string, *stubAuthorizer) {
	t.Helper()
	log := logger.NewNop()
	v := validator.New()
	gen := jwt.NewGenerator(jwt.TokenConfig{Secret: "s3cret", Issuer: "authz", AccessTokenDuration: time.Minute})
	token, _, err := gen.GenerateAccessToken(shared.NewID().String(), shared.NewID().String())
	require.NoError(t, err)

	authz := &stubAuthorizer{decision: decision}
	router := infrahttp.NewChiRouter()
	Register(router, Handlers{
		Health:     handler.NewHealthHandler(),
		Authz:      handler.NewAuthzHandler(nil, nil, v, log),
		Role:       handler.NewRoleHandler(nil, v, log),
		Assignment: handler.NewAssignmentHandler(nil, v, log),
	}, Deps{Tokens: gen, Authorizer: authz, Log: log})
	return router.Handler(), token, authz
}

func TestRegister_Routes(t *testing.T) {
	log := logger.NewNop()
	router := infrahttp.NewChiRouter()
	Register(router, Handlers{
		Health:     handler.NewHealthHandler(),
		Authz:      handler.NewAuthzHandler(nil, nil, validator.New(), log),
		Role:       handler.NewRoleHandler(nil, validator.New(), log),
		Assignment: handler.NewAssignmentHandler(nil, validator.New(), log),
	}, Deps{Authorizer: &stubAuthorizer{}, Log: log})

	var got []string
	for _, r := range infrahttp.CollectRoutes(router, infrahttp.RouteFilters{}) {
		got = append(got, r.Method+" "+r.Path)
	}

	for _, want := range []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"GET /api/v1/me/permissions",
		"GET /api/v1/me/locations",
		"POST /api/v1/authorize",
		"GET /api/v1/features",
		"GET /api/v1/permissions/matrix",
		"GET /api/v1/roles/",
		"POST /api/v1/roles/",
		"GET /api/v1/roles/{id}",
		"PUT /api/v1/roles/{id}/permissions",
		"DELETE /api/v1/roles/{id}",
		"POST /api/v1/assignments/",
		"POST /api/v1/assignments/{id}/revoke",
		"GET /api/v1/users/{id}/assignments",
	} {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "GET /api/v1/ws")
}

func TestRegister_Health(t *testing.T) {
	h, _, _ := setup(t, accesscontrol.Allow())

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRegister_ProtectedRoutes(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		h, _, authz := setup(t, accesscontrol.Allow())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, authz.checked)
	})

	t.Run("denied", func(t *testing.T) {
		h, token, authz := setup(t, accesscontrol.Deny(accesscontrol.ReasonInsufficientPermission))
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/roles/"+shared.NewID().String(), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, []string{"roles:delete"}, authz.checked)
	})

	t.Run("grant validation", func(t *testing.T) {
		h, token, authz := setup(t, accesscontrol.Allow())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/assignments", bytes.NewBufferString(`{"scope":"PLATFORM"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{"staff:edit"}, authz.checked)
	})
}
