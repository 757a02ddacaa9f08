// Package accesscontrol combines a user's role assignments into an effective
// permission set and decides individual access checks against it.
package accesscontrol

import (
	"fmt"

	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Resolution errors.
var (
	ErrRoleUnavailable     = fmt.Errorf("%w: role missing or deleted", shared.ErrNotFound)
	ErrCircularInheritance = fmt.Errorf("%w: circular role inheritance", shared.ErrValidation)
)

// RoleLookup finds roles by ID without I/O.
type RoleLookup interface {
	Role(id shared.ID) (*role.Role, bool)
}

// RoleMap is an in-memory RoleLookup.
type RoleMap map[shared.ID]*role.Role

// Role implements RoleLookup.
func (m RoleMap) Role(id shared.ID) (*role.Role, bool) {
	r, ok := m[id]
	return r, ok
}

// Add indexes roles by ID.
func (m RoleMap) Add(roles ...*role.Role) RoleMap {
	for _, r := range roles {
		if r != nil {
			m[r.ID()] = r
		}
	}
	return m
}

// RoleResolver resolves a role's permission set through its parent chain.
// Formula: parent permissions + additions - removals, recursively.
type RoleResolver struct {
	lookup RoleLookup
}

// NewRoleResolver creates a RoleResolver.
func NewRoleResolver(lookup RoleLookup) *RoleResolver {
	return &RoleResolver{lookup: lookup}
}

// Resolve returns the effective permissions of a role.
// A missing or tombstoned role is ErrRoleUnavailable. A missing or tombstoned
// ancestor contributes nothing. Any cycle in the parent chain is an error.
func (r *RoleResolver) Resolve(roleID shared.ID) ([]permission.Permission, error) {
	rl, ok := r.lookup.Role(roleID)
	if !ok || rl.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", ErrRoleUnavailable, roleID)
	}
	return r.resolve(rl, map[shared.ID]struct{}{})
}

func (r *RoleResolver) resolve(rl *role.Role, visited map[shared.ID]struct{}) ([]permission.Permission, error) {
	if _, seen := visited[rl.ID()]; seen {
		return nil, fmt.Errorf("%w: at %s", ErrCircularInheritance, rl.ID())
	}
	visited[rl.ID()] = struct{}{}

	var inherited []permission.Permission
	if pid := rl.ParentID(); pid != nil {
		if parent, ok := r.lookup.Role(*pid); ok && !parent.IsDeleted() {
			perms, err := r.resolve(parent, visited)
			if err != nil {
				return nil, err
			}
			inherited = perms
		}
	}
	return rl.Apply(inherited), nil
}

// Chain returns the role followed by its reachable ancestors, stopping at the
// first missing, deleted or repeated one.
func (r *RoleResolver) Chain(roleID shared.ID) []*role.Role {
	var out []*role.Role
	visited := make(map[shared.ID]struct{})
	id := &roleID
	for id != nil {
		if _, seen := visited[*id]; seen {
			break
		}
		visited[*id] = struct{}{}
		rl, ok := r.lookup.Role(*id)
		if !ok || rl.IsDeleted() {
			break
		}
		out = append(out, rl)
		id = rl.ParentID()
	}
	return out
}
