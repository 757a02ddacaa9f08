package app

import (
	"context"
	"errors"
	"time"

	"github.com/ehrconnect/authz/internal/metrics"
	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/facility"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// AssignmentService grants and revokes roles.
type AssignmentService struct {
	assignments assignment.Repository
	roles       role.Repository
	facilities  *facility.Live
	events      EventPublisher
	sync        *PermissionSync
	logger      *logger.Logger
	now         func() time.Time
}

// AssignmentServiceOption is a functional option for AssignmentService.
type AssignmentServiceOption func(*AssignmentService)

// WithAssignmentEvents sets the publisher for permission change events.
func WithAssignmentEvents(pub EventPublisher) AssignmentServiceOption {
	return func(s *AssignmentService) { s.events = pub }
}

// WithAssignmentPermissionSync enables cache invalidation after grants and revocations.
func WithAssignmentPermissionSync(sync *PermissionSync) AssignmentServiceOption {
	return func(s *AssignmentService) { s.sync = sync }
}

// WithAssignmentFacilities checks that granted locations and departments
// belong to the assignment's organization.
func WithAssignmentFacilities(f *facility.Live) AssignmentServiceOption {
	return func(s *AssignmentService) { s.facilities = f }
}

// WithAssignmentClock overrides time.Now.
func WithAssignmentClock(now func() time.Time) AssignmentServiceOption {
	return func(s *AssignmentService) { s.now = now }
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(
	assignments assignment.Repository,
	roles role.Repository,
	log *logger.Logger,
	opts ...AssignmentServiceOption,
) *AssignmentService {
	s := &AssignmentService{
		assignments: assignments,
		roles:       roles,
		logger:      log.With("service", "assignment"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GrantRoleInput represents the input for granting a role.
type GrantRoleInput struct {
	OrgID        shared.ID   `json:"-"`
	UserID       shared.ID   `json:"user_id" validate:"required"`
	RoleID       shared.ID   `json:"role_id" validate:"required"`
	Scope        scope.Level `json:"scope" validate:"required,scope_level"`
	LocationID   *shared.ID  `json:"location_id,omitempty"`
	DepartmentID *shared.ID  `json:"department_id,omitempty"`
	AssignedBy   *shared.ID  `json:"-"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty"`
}

// GrantRole assigns a role to a user. Granting a system role the
// organization has overridden grants the override instead.
func (s *AssignmentService) GrantRole(ctx context.Context, input GrantRoleInput) (*assignment.Assignment, error) {
	r, err := s.assignableRole(ctx, input.OrgID, input.RoleID)
	if err != nil {
		return nil, err
	}
	if !scope.CanAssignAt(r.ScopeLevel(), input.Scope) {
		return nil, assignment.ErrScopeNotAllowed
	}
	if err := s.checkFacilities(input); err != nil {
		return nil, err
	}

	a, err := assignment.New(assignment.Params{
		UserID:       input.UserID,
		RoleID:       r.ID(),
		OrgID:        input.OrgID,
		Scope:        input.Scope,
		LocationID:   input.LocationID,
		DepartmentID: input.DepartmentID,
		AssignedBy:   input.AssignedBy,
		ExpiresAt:    input.ExpiresAt,
	}, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.assignments.Create(ctx, a); err != nil {
		return nil, err
	}

	s.sync.Touch(ctx, a.UserID())
	metrics.RoleMutationsTotal.WithLabelValues("grant_role").Inc()
	s.logger.Info("role granted",
		"org_id", a.OrgID(),
		"user_id", a.UserID(),
		"role_id", a.RoleID(),
		"scope", a.Scope(),
	)
	emit(ctx, s.events, s.logger, event.ForUser(event.TypeRoleAssigned, a.UserID(), a.OrgID(), assignmentData(a, "")))
	return a, nil
}

func (s *AssignmentService) assignableRole(ctx context.Context, orgID, roleID shared.ID) (*role.Role, error) {
	r, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !r.BelongsTo(orgID) || r.IsDeleted() {
		return nil, role.ErrRoleNotFound
	}
	if !r.IsSystem() {
		return r, nil
	}

	override, err := s.roles.GetOverride(ctx, orgID, r.ID())
	switch {
	case err == nil:
		return override, nil
	case errors.Is(err, role.ErrRoleNotFound):
		return r, nil
	default:
		return nil, err
	}
}

func (s *AssignmentService) checkFacilities(input GrantRoleInput) error {
	if s.facilities == nil {
		return nil
	}
	dir := s.facilities.Snapshot()
	if input.LocationID != nil {
		loc, ok := dir.Location(*input.LocationID)
		if !ok {
			return shared.NewValidationError("unknown location")
		}
		if !loc.OrgID.Equals(input.OrgID) {
			return shared.NewTenantIsolationError("location belongs to another organization")
		}
	}
	if input.DepartmentID != nil {
		dep, ok := dir.Department(*input.DepartmentID)
		if !ok {
			return shared.NewValidationError("unknown department")
		}
		if !dep.OrgID.Equals(input.OrgID) {
			return shared.NewTenantIsolationError("department belongs to another organization")
		}
	}
	return nil
}

// RevokeRole ends an assignment. The row is kept.
func (s *AssignmentService) RevokeRole(ctx context.Context, orgID, assignmentID shared.ID, by *shared.ID) (*assignment.Assignment, error) {
	a, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !a.OrgID().Equals(orgID) {
		return nil, assignment.ErrAssignmentNotFound
	}
	if err := a.Revoke(by, s.now()); err != nil {
		return nil, err
	}
	if err := s.assignments.Revoke(ctx, a); err != nil {
		return nil, err
	}

	s.sync.Touch(ctx, a.UserID())
	metrics.RoleMutationsTotal.WithLabelValues("revoke_role").Inc()
	s.logger.Info("role revoked",
		"org_id", a.OrgID(),
		"user_id", a.UserID(),
		"assignment_id", a.ID(),
	)
	emit(ctx, s.events, s.logger, event.ForUser(event.TypeRoleRevoked, a.UserID(), a.OrgID(), assignmentData(a, "revoked")))
	return a, nil
}

// ListForUser returns summaries of the user's active assignments inside orgID.
func (s *AssignmentService) ListForUser(ctx context.Context, orgID, userID shared.ID) ([]assignment.Summary, error) {
	all, err := s.assignments.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		active  []*assignment.Assignment
		roleIDs []shared.ID
	)
	for _, a := range all {
		if a.OrgID().Equals(orgID) && a.IsActive(now) {
			active = append(active, a)
			roleIDs = append(roleIDs, a.RoleID())
		}
	}
	roles, err := s.roles.ListByIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[shared.ID]*role.Role, len(roles))
	for _, r := range roles {
		byID[r.ID()] = r
	}

	var labels assignment.Labeler
	if s.facilities != nil {
		labels = s.facilities
	}
	out := make([]assignment.Summary, 0, len(active))
	for _, a := range active {
		r, ok := byID[a.RoleID()]
		if !ok || r.IsDeleted() {
			continue
		}
		out = append(out, assignment.Summarize(a, r.Key(), r.Name(), labels))
	}
	return out, nil
}

func assignmentData(a *assignment.Assignment, reason string) map[string]any {
	data := map[string]any{
		"assignmentId": a.ID().String(),
		"roleId":       a.RoleID().String(),
		"scope":        a.Scope().String(),
	}
	if reason != "" {
		data["reason"] = reason
	}
	return data
}
