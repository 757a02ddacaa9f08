// Package role provides the role entity.
// A role is a named permission set, optionally derived from a parent role by
// adding and removing entries.
package role

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// Role is a named set of permissions.
type Role struct {
	id          shared.ID
	orgID       *shared.ID // nil = system role
	key         string
	name        string
	description string
	scopeLevel  scope.Level
	permissions []permission.Permission
	removals    []permission.Permission
	parentID    *shared.ID
	isSystem    bool
	isModified  bool
	createdAt   time.Time
	updatedAt   time.Time
	deletedAt   *time.Time
}

// New creates a custom role for an organization.
func New(orgID shared.ID, key, name, description string, level scope.Level, perms []string) (*Role, error) {
	if orgID.IsZero() {
		return nil, shared.NewValidationError("org id is required")
	}
	parsed, err := validate(key, name, level, perms)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Role{
		id:          shared.NewID(),
		orgID:       &orgID,
		key:         normalizeKey(key),
		name:        strings.TrimSpace(name),
		description: description,
		scopeLevel:  level,
		permissions: parsed,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// NewSystem creates a system role with an ID derived from its key.
func NewSystem(def Definition) (*Role, error) {
	level, err := scope.ParseLevel(def.ScopeLevel)
	if err != nil {
		return nil, err
	}
	parsed, err := validate(def.Key, def.Name, level, def.Permissions)
	if err != nil {
		return nil, err
	}
	key := normalizeKey(def.Key)
	return &Role{
		id:          SystemRoleID(key),
		key:         key,
		name:        strings.TrimSpace(def.Name),
		description: def.Description,
		scopeLevel:  level,
		permissions: parsed,
		isSystem:    true,
	}, nil
}

// SystemRoleID returns the stable ID of the system role with the given key.
func SystemRoleID(key string) shared.ID {
	return shared.IDFromName("role:" + normalizeKey(key))
}

// NewOrgOverride starts an organization's copy of a system role. The copy
// inherits everything from the system role until it is edited.
func NewOrgOverride(system *Role, orgID shared.ID) (*Role, error) {
	if system == nil || !system.isSystem {
		return nil, shared.NewValidationError("override source must be a system role")
	}
	if orgID.IsZero() {
		return nil, shared.NewValidationError("org id is required")
	}
	parentID := system.id
	now := time.Now().UTC()
	return &Role{
		id:          shared.NewID(),
		orgID:       &orgID,
		key:         system.key,
		name:        system.name,
		description: system.description,
		scopeLevel:  system.scopeLevel,
		parentID:    &parentID,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// Reconstruct rebuilds a role from persistence.
func Reconstruct(
	id shared.ID,
	orgID *shared.ID,
	key, name, description string,
	level scope.Level,
	perms, removals []permission.Permission,
	parentID *shared.ID,
	isSystem, isModified bool,
	createdAt, updatedAt time.Time,
	deletedAt *time.Time,
) *Role {
	return &Role{
		id:          id,
		orgID:       orgID,
		key:         key,
		name:        name,
		description: description,
		scopeLevel:  level,
		permissions: perms,
		removals:    removals,
		parentID:    parentID,
		isSystem:    isSystem,
		isModified:  isModified,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
		deletedAt:   deletedAt,
	}
}

func validate(key, name string, level scope.Level, perms []string) ([]permission.Permission, error) {
	if !keyPattern.MatchString(normalizeKey(key)) {
		return nil, shared.NewValidationError("role key must be a lower-case slug")
	}
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewValidationError("role name is required")
	}
	if !level.IsValid() {
		return nil, shared.NewValidationError("invalid scope level")
	}
	return permission.ParseList(perms)
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ID returns the role ID.
func (r *Role) ID() shared.ID { return r.id }

// OrgID returns the owning organization, nil for system roles.
func (r *Role) OrgID() *shared.ID { return r.orgID }

// Key returns the stable slug.
func (r *Role) Key() string { return r.key }

// Name returns the display name.
func (r *Role) Name() string { return r.name }

// Description returns the description.
func (r *Role) Description() string { return r.description }

// ScopeLevel returns the narrowest level the role may be assigned at.
func (r *Role) ScopeLevel() scope.Level { return r.scopeLevel }

// Permissions returns the role's own permissions, excluding anything inherited.
func (r *Role) Permissions() []permission.Permission { return slices.Clone(r.permissions) }

// Removals returns inherited permissions this role withdraws.
func (r *Role) Removals() []permission.Permission { return slices.Clone(r.removals) }

// ParentID returns the parent role, if any.
func (r *Role) ParentID() *shared.ID { return r.parentID }

// IsSystem reports whether the role is a seeded system role.
func (r *Role) IsSystem() bool { return r.isSystem }

// IsModified reports whether the role diverges from its parent.
func (r *Role) IsModified() bool { return r.isModified }

// CreatedAt returns the creation time.
func (r *Role) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the last update time.
func (r *Role) UpdatedAt() time.Time { return r.updatedAt }

// DeletedAt returns the tombstone time.
func (r *Role) DeletedAt() *time.Time { return r.deletedAt }

// IsDeleted reports whether the role has been tombstoned.
func (r *Role) IsDeleted() bool { return r.deletedAt != nil }

// BelongsTo reports whether the role is usable inside orgID. System roles are
// usable everywhere.
func (r *Role) BelongsTo(orgID shared.ID) bool {
	return r.orgID == nil || r.orgID.Equals(orgID)
}

func (r *Role) checkMutable() error {
	if r.isSystem {
		return ErrCannotModifySystemRole
	}
	if r.IsDeleted() {
		return ErrRoleDeleted
	}
	return nil
}

// SetPermissions makes desired the role's resulting permission set.
// For a derived role, inherited is the parent's resolved set and the role
// stores only the difference.
func (r *Role) SetPermissions(desired []string, inherited []permission.Permission) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	parsed, err := permission.ParseList(desired)
	if err != nil {
		return err
	}

	if r.parentID == nil {
		r.permissions = parsed
		r.removals = nil
	} else {
		r.permissions = difference(parsed, inherited)
		r.removals = difference(inherited, parsed)
		r.isModified = len(r.permissions) > 0 || len(r.removals) > 0
	}
	r.touch()
	return nil
}

// AddPermission grants one more permission.
func (r *Role) AddPermission(raw string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	p, err := permission.New(raw)
	if err != nil {
		return err
	}
	r.removals = slices.DeleteFunc(r.removals, func(x permission.Permission) bool { return x == p })
	if !slices.Contains(r.permissions, p) {
		r.permissions = append(r.permissions, p)
	}
	r.markModified()
	return nil
}

// RemovePermission withdraws a permission, including one inherited from the parent.
func (r *Role) RemovePermission(raw string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	p, err := permission.New(raw)
	if err != nil {
		return err
	}
	r.permissions = slices.DeleteFunc(r.permissions, func(x permission.Permission) bool { return x == p })
	if r.parentID != nil && !slices.Contains(r.removals, p) {
		r.removals = append(r.removals, p)
	}
	r.markModified()
	return nil
}

// UpdateDetails changes name and description.
func (r *Role) UpdateDetails(name, description string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return shared.NewValidationError("role name is required")
	}
	r.name = strings.TrimSpace(name)
	r.description = description
	r.touch()
	return nil
}

// Tombstone marks the role deleted. Rows are never removed.
func (r *Role) Tombstone(at time.Time) error {
	if r.isSystem {
		return ErrCannotDeleteSystemRole
	}
	if r.IsDeleted() {
		return ErrRoleDeleted
	}
	at = at.UTC()
	r.deletedAt = &at
	r.updatedAt = at
	return nil
}

// Apply layers this role's additions and removals over an inherited set.
func (r *Role) Apply(inherited []permission.Permission) []permission.Permission {
	out := make([]permission.Permission, 0, len(inherited)+len(r.permissions))
	for _, p := range inherited {
		if !slices.Contains(r.removals, p) {
			out = append(out, p)
		}
	}
	for _, p := range r.permissions {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Role) markModified() {
	if r.parentID != nil {
		r.isModified = true
	}
	r.touch()
}

func (r *Role) touch() {
	r.updatedAt = time.Now().UTC()
}

func difference(a, b []permission.Permission) []permission.Permission {
	var out []permission.Permission
	for _, p := range a {
		if !slices.Contains(b, p) {
			out = append(out, p)
		}
	}
	return out
}
