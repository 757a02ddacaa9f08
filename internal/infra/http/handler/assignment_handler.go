package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ehrconnect/authz/internal/app"
	"github.com/ehrconnect/authz/internal/infra/http/middleware"
	"github.com/ehrconnect/authz/pkg/apierror"
	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/validator"
)

// AssignmentManager is the assignment side of the application layer.
type AssignmentManager interface {
	GrantRole(ctx context.Context, input app.GrantRoleInput) (*assignment.Assignment, error)
	RevokeRole(ctx context.Context, orgID, assignmentID shared.ID, by *shared.ID) (*assignment.Assignment, error)
	ListForUser(ctx context.Context, orgID, userID shared.ID) ([]assignment.Summary, error)
}

// AssignmentHandler handles role grant and revoke requests.
type AssignmentHandler struct {
	service   AssignmentManager
	validator *validator.Validator
	logger    *logger.Logger
}

// NewAssignmentHandler creates a new assignment handler.
func NewAssignmentHandler(svc AssignmentManager, v *validator.Validator, log *logger.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		service:   svc,
		validator: v,
		logger:    log.With("handler", "assignment"),
	}
}

// GrantRoleRequest grants a role. location_id / department_id must match scope.
type GrantRoleRequest struct {
	UserID       string     `json:"user_id" validate:"required,uuid"`
	RoleID       string     `json:"role_id" validate:"required,uuid"`
	Scope        string     `json:"scope" validate:"required,assignable_scope"`
	LocationID   *string    `json:"location_id,omitempty" validate:"omitempty,uuid"`
	DepartmentID *string    `json:"department_id,omitempty" validate:"omitempty,uuid"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// AssignmentResponse represents an assignment in API responses.
type AssignmentResponse struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	RoleID       string     `json:"role_id"`
	OrgID        string     `json:"org_id"`
	Scope        string     `json:"scope"`
	LocationID   *string    `json:"location_id,omitempty"`
	DepartmentID *string    `json:"department_id,omitempty"`
	AssignedBy   *string    `json:"assigned_by,omitempty"`
	AssignedAt   time.Time  `json:"assigned_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    *string    `json:"revoked_by,omitempty"`
}

func toAssignmentResponse(a *assignment.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:           a.ID().String(),
		UserID:       a.UserID().String(),
		RoleID:       a.RoleID().String(),
		OrgID:        a.OrgID().String(),
		Scope:        a.Scope().String(),
		LocationID:   idString(a.LocationID()),
		DepartmentID: idString(a.DepartmentID()),
		AssignedBy:   idString(a.AssignedBy()),
		AssignedAt:   a.AssignedAt(),
		ExpiresAt:    a.ExpiresAt(),
		RevokedAt:    a.RevokedAt(),
		RevokedBy:    idString(a.RevokedBy()),
	}
}

// Grant handles POST /api/v1/assignments.
func (h *AssignmentHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	input, err := h.grantInput(r, req)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	a, err := h.service.GrantRole(r.Context(), input)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentResponse(a))
}

func (h *AssignmentHandler) grantInput(r *http.Request, req GrantRoleRequest) (app.GrantRoleInput, error) {
	userID, err := shared.IDFromString(req.UserID)
	if err != nil {
		return app.GrantRoleInput{}, shared.NewValidationError("invalid user_id")
	}
	roleID, err := shared.IDFromString(req.RoleID)
	if err != nil {
		return app.GrantRoleInput{}, shared.NewValidationError("invalid role_id")
	}
	level, err := scope.ParseLevel(req.Scope)
	if err != nil {
		return app.GrantRoleInput{}, err
	}
	locationID, err := optionalID(req.LocationID, "location_id")
	if err != nil {
		return app.GrantRoleInput{}, err
	}
	departmentID, err := optionalID(req.DepartmentID, "department_id")
	if err != nil {
		return app.GrantRoleInput{}, err
	}

	by := middleware.GetUserID(r.Context())
	return app.GrantRoleInput{
		OrgID:        middleware.GetOrgID(r.Context()),
		UserID:       userID,
		RoleID:       roleID,
		Scope:        level,
		LocationID:   locationID,
		DepartmentID: departmentID,
		AssignedBy:   &by,
		ExpiresAt:    req.ExpiresAt,
	}, nil
}

// Revoke handles POST /api/v1/assignments/{id}/revoke.
func (h *AssignmentHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	by := middleware.GetUserID(r.Context())
	a, err := h.service.RevokeRole(r.Context(), middleware.GetOrgID(r.Context()), assignmentID, &by)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// ListForUser handles GET /api/v1/users/{id}/assignments.
func (h *AssignmentHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	summaries, err := h.service.ListForUser(r.Context(), middleware.GetOrgID(r.Context()), userID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(summaries))
}
