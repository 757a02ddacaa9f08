package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ehrconnect/authz/internal/app"
	"github.com/ehrconnect/authz/internal/infra/http/middleware"
	"github.com/ehrconnect/authz/pkg/apierror"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/validator"
)

// RoleManager is the role side of the application layer.
type RoleManager interface {
	CreateRole(ctx context.Context, input app.CreateRoleInput) (*role.Role, error)
	UpdateRolePermissions(ctx context.Context, input app.UpdateRolePermissionsInput) (*app.RoleView, error)
	DeleteRole(ctx context.Context, orgID, roleID shared.ID) error
	GetRole(ctx context.Context, orgID, roleID shared.ID) (*app.RoleView, error)
	ListRoles(ctx context.Context, orgID shared.ID) ([]app.RoleView, error)
}

// RoleHandler handles role-related HTTP requests.
type RoleHandler struct {
	service   RoleManager
	validator *validator.Validator
	logger    *logger.Logger
}

// NewRoleHandler creates a new role handler.
func NewRoleHandler(svc RoleManager, v *validator.Validator, log *logger.Logger) *RoleHandler {
	return &RoleHandler{
		service:   svc,
		validator: v,
		logger:    log.With("handler", "role"),
	}
}

// =============================================================================
// Response Types
// =============================================================================

// RoleResponse represents a role in API responses.
type RoleResponse struct {
	ID          string    `json:"id"`
	OrgID       *string   `json:"org_id,omitempty"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ScopeLevel  string    `json:"scope_level"`
	IsSystem    bool      `json:"is_system"`
	IsModified  bool      `json:"is_modified"`
	ParentID    *string   `json:"parent_id,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// =============================================================================
// Request Types
// =============================================================================

// CreateRoleRequest represents the request to create a role.
type CreateRoleRequest struct {
	Key         string   `json:"key" validate:"required,role_key"`
	Name        string   `json:"name" validate:"required,min=2,max=100"`
	Description string   `json:"description" validate:"max=500"`
	ScopeLevel  string   `json:"scope_level" validate:"required,assignable_scope"`
	Permissions []string `json:"permissions" validate:"max=500,dive,permission"`
}

// UpdateRolePermissionsRequest replaces a role's permission set. An empty
// list is allowed; a missing one is not.
type UpdateRolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,max=500,dive,permission"`
}

// =============================================================================
// Response Converters
// =============================================================================

func toRoleResponse(r *role.Role, perms []permission.Permission) RoleResponse {
	resp := RoleResponse{
		ID:          r.ID().String(),
		OrgID:       idString(r.OrgID()),
		Key:         r.Key(),
		Name:        r.Name(),
		Description: r.Description(),
		ScopeLevel:  r.ScopeLevel().String(),
		IsSystem:    r.IsSystem(),
		IsModified:  r.IsModified(),
		ParentID:    idString(r.ParentID()),
		Permissions: permission.Strings(perms),
		CreatedAt:   r.CreatedAt(),
		UpdatedAt:   r.UpdatedAt(),
	}
	return resp
}

func toRoleViewResponse(v *app.RoleView) RoleResponse {
	return toRoleResponse(v.Role, v.Permissions)
}

// =============================================================================
// Handlers
// =============================================================================

// List handles GET /api/v1/roles.
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListRoles(r.Context(), middleware.GetOrgID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	items := make([]RoleResponse, len(views))
	for i := range views {
		items[i] = toRoleViewResponse(&views[i])
	}
	writeJSON(w, http.StatusOK, newListResponse(items))
}

// Get handles GET /api/v1/roles/{id}.
func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	view, err := h.service.GetRole(r.Context(), middleware.GetOrgID(r.Context()), roleID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoleViewResponse(view))
}

// Create handles POST /api/v1/roles.
func (h *RoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	created, err := h.service.CreateRole(r.Context(), app.CreateRoleInput{
		OrgID:       middleware.GetOrgID(r.Context()),
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		ScopeLevel:  req.ScopeLevel,
		Permissions: req.Permissions,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRoleResponse(created, created.Permissions()))
}

// UpdatePermissions handles PUT /api/v1/roles/{id}/permissions. Editing a
// system role answers with the organization's override.
func (h *RoleHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	var req UpdateRolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	view, err := h.service.UpdateRolePermissions(r.Context(), app.UpdateRolePermissionsInput{
		OrgID:       middleware.GetOrgID(r.Context()),
		RoleID:      roleID,
		Permissions: req.Permissions,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoleViewResponse(view))
}

// Delete handles DELETE /api/v1/roles/{id}.
func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	if err := h.service.DeleteRole(r.Context(), middleware.GetOrgID(r.Context()), roleID); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
