package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehrconnect/authz/internal/metrics"
	"github.com/ehrconnect/authz/internal/policy"
	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// defaultInlineInvalidationLimit is the largest member set refreshed inline.
// Larger sets are handed to the background invalidator when one is configured.
const defaultInlineInvalidationLimit = 100

// RoleService handles role-related business operations.
type RoleService struct {
	roleRepo    role.Repository
	events      EventPublisher
	sync        *PermissionSync
	invalidator RoleMembersInvalidator
	inlineLimit int
	logger      *logger.Logger
	now         func() time.Time
}

// NewRoleService creates a new RoleService.
func NewRoleService(roleRepo role.Repository, log *logger.Logger, opts ...RoleServiceOption) *RoleService {
	s := &RoleService{
		roleRepo:    roleRepo,
		inlineLimit: defaultInlineInvalidationLimit,
		logger:      log.With("service", "role"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RoleServiceOption is a functional option for RoleService.
type RoleServiceOption func(*RoleService)

// WithRoleEvents sets the publisher for permission change events.
func WithRoleEvents(pub EventPublisher) RoleServiceOption {
	return func(s *RoleService) { s.events = pub }
}

// WithRolePermissionSync enables cache invalidation and generation bumps
// for the members of a changed role.
func WithRolePermissionSync(sync *PermissionSync) RoleServiceOption {
	return func(s *RoleService) { s.sync = sync }
}

// WithRoleMembersInvalidator hands member sets larger than limit to a
// background invalidator.
func WithRoleMembersInvalidator(inv RoleMembersInvalidator, limit int) RoleServiceOption {
	return func(s *RoleService) {
		s.invalidator = inv
		if limit > 0 {
			s.inlineLimit = limit
		}
	}
}

// invalidateMembers refreshes the cached sets of a role's members. It
// reports whether the work was handed to the background invalidator, which
// then owns the change event.
func (s *RoleService) invalidateMembers(ctx context.Context, orgID, roleID shared.ID, members []shared.ID) bool {
	if len(members) > s.inlineLimit && s.invalidator != nil {
		err := s.invalidator.EnqueueRoleMembersInvalidate(ctx, orgID, roleID)
		if err == nil {
			s.logger.Info("role member invalidation enqueued",
				"org_id", orgID,
				"role_id", roleID,
				"member_count", len(members),
			)
			return true
		}
		s.logger.Warn("failed to enqueue role member invalidation, invalidating inline",
			"role_id", roleID,
			"error", err,
		)
	}
	s.sync.Touch(ctx, members...)
	return false
}

// RefreshRoleMembers invalidates the cached sets of every member of a role
// and then publishes role_updated. It backs the background invalidation task.
func (s *RoleService) RefreshRoleMembers(ctx context.Context, orgID, roleID shared.ID) (int, error) {
	members, err := s.roleRepo.ListMemberUserIDs(ctx, orgID, roleID)
	if err != nil {
		return 0, err
	}
	s.sync.Touch(ctx, members...)

	data := map[string]any{"roleId": roleID.String()}
	if r, err := s.roleRepo.GetByID(ctx, roleID); err == nil {
		data = roleData(r)
	}
	emit(ctx, s.events, s.logger, event.ForOrg(event.TypeRoleUpdated, orgID, data, members))
	return len(members), nil
}

// =============================================================================
// ROLE CRUD OPERATIONS
// =============================================================================

// CreateRoleInput represents the input for creating a custom role.
type CreateRoleInput struct {
	OrgID       shared.ID `json:"-"`
	Key         string    `json:"key" validate:"required,min=2,max=63"`
	Name        string    `json:"name" validate:"required,min=2,max=100"`
	Description string    `json:"description" validate:"max=500"`
	ScopeLevel  string    `json:"scope_level" validate:"required,scope_level"`
	Permissions []string  `json:"permissions" validate:"dive,permission"`
}

// CreateRole creates a custom role for an organization.
func (s *RoleService) CreateRole(ctx context.Context, input CreateRoleInput) (*role.Role, error) {
	level, err := scope.ParseLevel(input.ScopeLevel)
	if err != nil {
		return nil, err
	}
	r, err := role.New(input.OrgID, input.Key, input.Name, input.Description, level, input.Permissions)
	if err != nil {
		return nil, err
	}
	if err := s.roleRepo.Create(ctx, r); err != nil {
		return nil, err
	}

	metrics.RoleMutationsTotal.WithLabelValues("create_role").Inc()
	s.logger.Info("role created", "org_id", input.OrgID, "role_id", r.ID(), "key", r.Key())
	emit(ctx, s.events, s.logger, event.ForOrg(event.TypeRoleCreated, input.OrgID, roleData(r), nil))
	return r, nil
}

// UpdateRolePermissionsInput represents the input for replacing a role's permissions.
type UpdateRolePermissionsInput struct {
	OrgID       shared.ID `json:"-"`
	RoleID      shared.ID `json:"-"`
	Permissions []string  `json:"permissions" validate:"dive,permission"`
}

// UpdateRolePermissions makes Permissions the role's resolved set inside the
// organization. Editing a system role creates, or edits, the organization's
// override; the system role itself never changes.
func (s *RoleService) UpdateRolePermissions(ctx context.Context, input UpdateRolePermissionsInput) (*RoleView, error) {
	target, err := s.roleRepo.GetByID(ctx, input.RoleID)
	if err != nil {
		return nil, err
	}
	if !target.BelongsTo(input.OrgID) {
		return nil, role.ErrRoleNotFound
	}
	if target.IsDeleted() {
		return nil, role.ErrRoleDeleted
	}

	if target.IsSystem() {
		target, err = s.writeOverride(ctx, input.OrgID, target, input.Permissions)
	} else {
		err = s.writeCustom(ctx, target, input.Permissions)
	}
	if err != nil {
		return nil, err
	}

	members, err := s.roleRepo.ListMemberUserIDs(ctx, input.OrgID, target.ID())
	if err != nil {
		// The write has committed; members simply fall back to the cache TTL.
		s.logger.Error("failed to list role members", "role_id", target.ID(), "error", err)
	}
	queued := s.invalidateMembers(ctx, input.OrgID, target.ID(), members)

	metrics.RoleMutationsTotal.WithLabelValues("update_role").Inc()
	s.logger.Info("role permissions updated",
		"org_id", input.OrgID,
		"role_id", target.ID(),
		"affected_users", len(members),
		"queued", queued,
	)
	if !queued {
		emit(ctx, s.events, s.logger, event.ForOrg(event.TypeRoleUpdated, input.OrgID, roleData(target), members))
	}

	return s.view(ctx, target)
}

func (s *RoleService) writeOverride(ctx context.Context, orgID shared.ID, system *role.Role, desired []string) (*role.Role, error) {
	inherited := system.Permissions()

	override, err := s.roleRepo.GetOverride(ctx, orgID, system.ID())
	switch {
	case err == nil:
		if err := override.SetPermissions(desired, inherited); err != nil {
			return nil, err
		}
		if err := s.roleRepo.Update(ctx, override); err != nil {
			return nil, err
		}
		return override, nil
	case errors.Is(err, role.ErrRoleNotFound):
		override, err = role.NewOrgOverride(system, orgID)
		if err != nil {
			return nil, err
		}
		if err := override.SetPermissions(desired, inherited); err != nil {
			return nil, err
		}
		if err := s.roleRepo.CreateOverride(ctx, override); err != nil {
			return nil, err
		}
		s.logger.Info("system role overridden", "org_id", orgID, "system_role", system.Key(), "override_id", override.ID())
		return override, nil
	default:
		return nil, err
	}
}

func (s *RoleService) writeCustom(ctx context.Context, r *role.Role, desired []string) error {
	var inherited []permission.Permission
	if pid := r.ParentID(); pid != nil {
		lookup, err := s.chain(ctx, *pid)
		if err != nil {
			return err
		}
		if perms, err := accesscontrol.NewRoleResolver(lookup).Resolve(*pid); err == nil {
			inherited = perms
		}
	}
	if err := r.SetPermissions(desired, inherited); err != nil {
		return err
	}
	return s.roleRepo.Update(ctx, r)
}

// DeleteRole tombstones a custom role. System roles and roles with active
// assignments are refused.
func (s *RoleService) DeleteRole(ctx context.Context, orgID, roleID shared.ID) error {
	r, err := s.roleRepo.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	if r.IsSystem() {
		return role.ErrCannotDeleteSystemRole
	}
	if !r.BelongsTo(orgID) {
		return role.ErrRoleNotFound
	}

	active, err := s.roleRepo.CountActiveAssignments(ctx, roleID)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: %d active assignments", role.ErrRoleInUse, active)
	}

	if err := r.Tombstone(s.now()); err != nil {
		return err
	}
	if err := s.roleRepo.Tombstone(ctx, r); err != nil {
		return err
	}

	metrics.RoleMutationsTotal.WithLabelValues("delete_role").Inc()
	s.logger.Info("role deleted", "org_id", orgID, "role_id", roleID, "key", r.Key())
	emit(ctx, s.events, s.logger, event.ForOrg(event.TypeRoleDeleted, orgID, roleData(r), nil))
	return nil
}

// =============================================================================
// ROLE QUERIES
// =============================================================================

// RoleView is a role with its resolved permission set.
type RoleView struct {
	Role        *role.Role
	Permissions []permission.Permission
}

// GetRole returns a live role visible to the organization.
func (s *RoleService) GetRole(ctx context.Context, orgID, roleID shared.ID) (*RoleView, error) {
	r, err := s.roleRepo.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !r.BelongsTo(orgID) || r.IsDeleted() {
		return nil, role.ErrRoleNotFound
	}
	return s.view(ctx, r)
}

// ListRoles returns the roles an organization can assign. A system role the
// organization has overridden is replaced by its override.
func (s *RoleService) ListRoles(ctx context.Context, orgID shared.ID) ([]RoleView, error) {
	roles, err := s.roleRepo.ListForOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	lookup := accesscontrol.RoleMap{}.Add(roles...)
	overridden := make(map[shared.ID]struct{})
	for _, r := range roles {
		if pid := r.ParentID(); pid != nil && !r.IsSystem() {
			overridden[*pid] = struct{}{}
		}
	}

	resolver := accesscontrol.NewRoleResolver(lookup)
	out := make([]RoleView, 0, len(roles))
	for _, r := range roles {
		if _, hidden := overridden[r.ID()]; hidden && r.IsSystem() {
			continue
		}
		perms, err := resolver.Resolve(r.ID())
		if err != nil {
			s.logger.Warn("skipping unresolvable role", "role_id", r.ID(), "error", err)
			continue
		}
		out = append(out, RoleView{Role: r, Permissions: perms})
	}
	return out, nil
}

func (s *RoleService) view(ctx context.Context, r *role.Role) (*RoleView, error) {
	lookup := accesscontrol.RoleMap{}.Add(r)
	if pid := r.ParentID(); pid != nil {
		parents, err := s.chain(ctx, *pid)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			lookup.Add(p)
		}
	}
	perms, err := accesscontrol.NewRoleResolver(lookup).Resolve(r.ID())
	if err != nil {
		return nil, err
	}
	return &RoleView{Role: r, Permissions: perms}, nil
}

// chain loads a role and its ancestors.
func (s *RoleService) chain(ctx context.Context, id shared.ID) (accesscontrol.RoleMap, error) {
	lookup := accesscontrol.RoleMap{}
	next := &id
	for depth := 0; next != nil && depth < maxInheritanceDepth; depth++ {
		if _, seen := lookup[*next]; seen {
			break
		}
		r, err := s.roleRepo.GetByID(ctx, *next)
		if errors.Is(err, role.ErrRoleNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		lookup.Add(r)
		next = r.ParentID()
	}
	return lookup, nil
}

// =============================================================================
// SEEDING
// =============================================================================

// SeedSystemRoles upserts the system roles of a policy document.
func (s *RoleService) SeedSystemRoles(ctx context.Context, doc *policy.Document) (int, error) {
	roles, err := doc.SystemRoles()
	if err != nil {
		return 0, err
	}
	for _, r := range roles {
		if err := s.roleRepo.UpsertSystem(ctx, r); err != nil {
			return 0, err
		}
	}
	s.logger.Info("system roles seeded", "count", len(roles))
	return len(roles), nil
}

func roleData(r *role.Role) map[string]any {
	return map[string]any{
		"roleId":  r.ID().String(),
		"roleKey": r.Key(),
	}
}
