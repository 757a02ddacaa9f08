package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ehrconnect/authz/internal/infra/http/middleware"
	"github.com/ehrconnect/authz/pkg/apierror"
	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/validator"
)

// AuthorizationService is what the authorization endpoints need from the
// application layer.
type AuthorizationService interface {
	EffectiveSet(ctx context.Context, userID shared.ID) (*accesscontrol.EffectivePermissionSet, error)
	AccessibleLocations(ctx context.Context, userID, orgID shared.ID) (scope.LocationSet, error)
	Authorize(ctx context.Context, subject accesscontrol.Subject, required string, sctx scope.Context, opts accesscontrol.CheckOptions) (accesscontrol.Decision, error)
	Engine() *accesscontrol.Engine
}

// FeatureProvider serves the active feature map.
type FeatureProvider interface {
	Features() permission.FeatureMap
	Version() string
}

// AuthzHandler serves the caller's own permission data and ad hoc checks.
type AuthzHandler struct {
	authz     AuthorizationService
	features  FeatureProvider
	validator *validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

// NewAuthzHandler creates a new authorization handler.
func NewAuthzHandler(authz AuthorizationService, features FeatureProvider, v *validator.Validator, log *logger.Logger) *AuthzHandler {
	return &AuthzHandler{
		authz:     authz,
		features:  features,
		validator: v,
		logger:    log.With("handler", "authz"),
		now:       time.Now,
	}
}

// =============================================================================
// Request / Response Types
// =============================================================================

// PermissionsResponse is the caller's effective set inside the session
// organization.
type PermissionsResponse struct {
	OrgID string `json:"org_id"`
	*accesscontrol.EffectivePermissionSet
}

// LocationsResponse lists the locations the caller can act at.
type LocationsResponse struct {
	OrgID     string            `json:"org_id"`
	Locations scope.LocationSet `json:"locations"`
}

// AuthorizeRequest asks whether the caller may perform a permission.
type AuthorizeRequest struct {
	Permission       string  `json:"permission" validate:"required,permission"`
	LocationID       *string `json:"location_id,omitempty" validate:"omitempty,uuid"`
	DepartmentID     *string `json:"department_id,omitempty" validate:"omitempty,uuid"`
	SkipLocationGate bool    `json:"skip_location_gate,omitempty"`
}

// AuthorizeResponse is a decision with its user-facing message.
type AuthorizeResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// FeaturesResponse is the active feature map.
type FeaturesResponse struct {
	Version  string              `json:"version"`
	Features map[string][]string `json:"features"`
}

// MatrixResponse is the resource by action grid for the request scope.
type MatrixResponse struct {
	OrgID      string            `json:"org_id"`
	LocationID *string           `json:"location_id,omitempty"`
	Matrix     permission.Matrix `json:"matrix"`
}

// =============================================================================
// Handlers
// =============================================================================

// MyPermissions handles GET /api/v1/me/permissions.
func (h *AuthzHandler) MyPermissions(w http.ResponseWriter, r *http.Request) {
	userID, orgID := middleware.GetUserID(r.Context()), middleware.GetOrgID(r.Context())

	set, err := h.authz.EffectiveSet(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, PermissionsResponse{
		OrgID:                  orgID.String(),
		EffectivePermissionSet: set.ForOrg(orgID, time.Now()),
	})
}

// MyLocations handles GET /api/v1/me/locations.
func (h *AuthzHandler) MyLocations(w http.ResponseWriter, r *http.Request) {
	userID, orgID := middleware.GetUserID(r.Context()), middleware.GetOrgID(r.Context())

	locations, err := h.authz.AccessibleLocations(r.Context(), userID, orgID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, LocationsResponse{OrgID: orgID.String(), Locations: locations})
}

// Authorize handles POST /api/v1/authorize. A denial is a 200 with
// allowed=false; only a check that cannot be evaluated is an error.
func (h *AuthzHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	subject := accesscontrol.Subject{
		UserID: middleware.GetUserID(r.Context()),
		OrgID:  middleware.GetOrgID(r.Context()),
	}
	sctx := scope.OrgContext(subject.OrgID)
	var err error
	if sctx.LocationID, err = optionalID(req.LocationID, "location_id"); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	if sctx.DepartmentID, err = optionalID(req.DepartmentID, "department_id"); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	decision, err := h.authz.Authorize(r.Context(), subject, req.Permission, sctx,
		accesscontrol.CheckOptions{SkipLocationGate: req.SkipLocationGate})
	if err != nil {
		h.logger.Error("authorize failed", "user_id", subject.UserID, "error", err)
		apierror.ServiceUnavailable("Permission check unavailable").
			WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return
	}

	writeJSON(w, http.StatusOK, AuthorizeResponse{
		Allowed: decision.Allowed,
		Reason:  string(decision.Reason),
		Message: decision.Message(),
	})
}

// Features handles GET /api/v1/features.
func (h *AuthzHandler) Features(w http.ResponseWriter, _ *http.Request) {
	features := h.features.Features()
	out := make(map[string][]string, len(features))
	for key, perms := range features {
		out[key] = permission.Strings(perms)
	}
	writeJSON(w, http.StatusOK, FeaturesResponse{Version: h.features.Version(), Features: out})
}

// Matrix handles GET /api/v1/permissions/matrix. The grid covers the
// permissions that apply in the request scope, so the location header
// narrows it.
func (h *AuthzHandler) Matrix(w http.ResponseWriter, r *http.Request) {
	sctx, err := middleware.ScopeContext(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	set, err := h.authz.EffectiveSet(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	held := set.PermissionsFor(h.authz.Engine().Scopes(), sctx, h.now())
	writeJSON(w, http.StatusOK, MatrixResponse{
		OrgID:      sctx.OrgID.String(),
		LocationID: idString(sctx.LocationID),
		Matrix:     permission.BuildMatrix(held),
	})
}
