package accesscontrol

import (
	"slices"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Grant is what one active assignment contributes.
type Grant struct {
	AssignmentID shared.ID               `json:"assignment_id"`
	RoleID       shared.ID               `json:"role_id"`
	Org          shared.ID               `json:"org_id"`
	Level        scope.Level             `json:"scope"`
	Location     *shared.ID              `json:"location_id,omitempty"`
	Department   *shared.ID              `json:"department_id,omitempty"`
	Expires      *time.Time              `json:"expires_at,omitempty"`
	Permissions  []permission.Permission `json:"permissions"`
}

// Grant satisfies scope.Binding.

func (g Grant) OrgID() shared.ID { return g.Org }
func (g Grant) Scope() scope.Level { return g.Level }
func (g Grant) LocationID() *shared.ID { return g.Location }
func (g Grant) DepartmentID() *shared.ID { return g.Department }

// IsActive reports whether the grant has not yet expired.
func (g Grant) IsActive(now time.Time) bool {
	return g.Expires == nil || g.Expires.After(now)
}

// Skipped records an assignment left out of the set and why.
type Skipped struct {
	AssignmentID shared.ID `json:"assignment_id"`
	RoleID       shared.ID `json:"role_id"`
	Reason       string    `json:"reason"`
}

// EffectivePermissionSet is a user's derived permissions at one instant.
type EffectivePermissionSet struct {
	UserID      shared.ID               `json:"user_id"`
	Permissions []permission.Permission `json:"permissions"`
	Assignments []assignment.Summary    `json:"assignments"`
	Grants      []Grant                 `json:"grants"`
	Skipped     []Skipped               `json:"skipped,omitempty"`
	ComputedAt  time.Time               `json:"computed_at"`
	Generation  int64                   `json:"generation"`
}

// Has reports whether the union of all grants satisfies required.
func (s *EffectivePermissionSet) Has(required permission.Permission) bool {
	return permission.HasPermission(s.Permissions, required)
}

// PermissionsFor returns the union of permissions from grants that are active
// at now and cover ctx.
func (s *EffectivePermissionSet) PermissionsFor(r *scope.Resolver, ctx scope.Context, now time.Time) []permission.Permission {
	var out []permission.Permission
	for _, g := range s.Grants {
		if !g.IsActive(now) || !r.Covers(g, ctx) {
			continue
		}
		for _, p := range g.Permissions {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// OrgIDs returns the organizations the user holds any grant in.
func (s *EffectivePermissionSet) OrgIDs() []shared.ID {
	var out []shared.ID
	for _, g := range s.Grants {
		if !slices.ContainsFunc(out, g.Org.Equals) {
			out = append(out, g.Org)
		}
	}
	return out
}

// ActiveAt drops grants that are no longer active at now and rebuilds the
// permission union and summaries from what is left. A cached set must pass
// through it before it is served.
func (s *EffectivePermissionSet) ActiveAt(now time.Time) *EffectivePermissionSet {
	return s.project(func(g Grant) bool { return g.IsActive(now) })
}

// ForOrg projects the set onto one organization: grants, summaries and the
// permission union only carry what was granted inside orgID and is still
// active at now.
func (s *EffectivePermissionSet) ForOrg(orgID shared.ID, now time.Time) *EffectivePermissionSet {
	return s.project(func(g Grant) bool { return g.Org.Equals(orgID) && g.IsActive(now) })
}

func (s *EffectivePermissionSet) project(keep func(Grant) bool) *EffectivePermissionSet {
	out := &EffectivePermissionSet{
		UserID:      s.UserID,
		Permissions: []permission.Permission{},
		Assignments: []assignment.Summary{},
		Grants:      []Grant{},
		Skipped:     s.Skipped,
		ComputedAt:  s.ComputedAt,
		Generation:  s.Generation,
	}
	kept := make(map[shared.ID]bool)
	for _, g := range s.Grants {
		if !keep(g) {
			continue
		}
		out.Grants = append(out.Grants, g)
		kept[g.AssignmentID] = true
		for _, p := range g.Permissions {
			if !slices.Contains(out.Permissions, p) {
				out.Permissions = append(out.Permissions, p)
			}
		}
	}
	for _, a := range s.Assignments {
		if kept[a.AssignmentID] {
			out.Assignments = append(out.Assignments, a)
		}
	}
	return out
}

// Aggregate builds the effective set from a user's assignments.
// Inactive assignments are discarded. An assignment whose role cannot be
// resolved is recorded in Skipped and the rest of the set is still built.
func Aggregate(
	userID shared.ID,
	assignments []*assignment.Assignment,
	lookup RoleLookup,
	labels assignment.Labeler,
	now time.Time,
) *EffectivePermissionSet {
	resolver := NewRoleResolver(lookup)
	set := &EffectivePermissionSet{
		UserID:      userID,
		Permissions: []permission.Permission{},
		Assignments: []assignment.Summary{},
		Grants:      []Grant{},
		ComputedAt:  now.UTC(),
	}

	for _, a := range assignments {
		if a == nil || !a.UserID().Equals(userID) || !a.IsActive(now) {
			continue
		}

		perms, err := resolver.Resolve(a.RoleID())
		if err != nil {
			set.Skipped = append(set.Skipped, Skipped{
				AssignmentID: a.ID(),
				RoleID:       a.RoleID(),
				Reason:       err.Error(),
			})
			continue
		}

		rl, _ := lookup.Role(a.RoleID())
		set.Grants = append(set.Grants, Grant{
			AssignmentID: a.ID(),
			RoleID:       a.RoleID(),
			Org:          a.OrgID(),
			Level:        a.Scope(),
			Location:     a.LocationID(),
			Department:   a.DepartmentID(),
			Expires:      a.ExpiresAt(),
			Permissions:  perms,
		})
		set.Assignments = append(set.Assignments, assignment.Summarize(a, rl.Key(), rl.Name(), labels))

		for _, p := range perms {
			if !slices.Contains(set.Permissions, p) {
				set.Permissions = append(set.Permissions, p)
			}
		}
	}
	return set
}
