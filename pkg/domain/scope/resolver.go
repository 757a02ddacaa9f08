package scope

import (
	"time"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Binding is the part of a role assignment the resolver needs.
type Binding interface {
	OrgID() shared.ID
	Scope() Level
	LocationID() *shared.ID
	DepartmentID() *shared.ID
	IsActive(now time.Time) bool
}

// DepartmentDirectory maps a department to the location that owns it.
type DepartmentDirectory interface {
	LocationOf(departmentID shared.ID) (shared.ID, bool)
}

// StaticDirectory is an in-memory DepartmentDirectory.
type StaticDirectory map[shared.ID]shared.ID

// LocationOf implements DepartmentDirectory.
func (d StaticDirectory) LocationOf(departmentID shared.ID) (shared.ID, bool) {
	loc, ok := d[departmentID]
	return loc, ok
}

// Resolver evaluates scope coverage. The zero value is usable and keeps
// department grants confined to their department.
type Resolver struct {
	departmentLocationVisibility bool
	directory                    DepartmentDirectory
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDepartmentLocationVisibility lets a department grant cover checks made
// against the location owning that department.
func WithDepartmentLocationVisibility(enabled bool) Option {
	return func(r *Resolver) {
		r.departmentLocationVisibility = enabled
	}
}

// WithDepartmentDirectory sets the directory used to find a department's location.
func WithDepartmentDirectory(d DepartmentDirectory) Option {
	return func(r *Resolver) {
		r.directory = d
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Covers reports whether the binding applies to ctx.
// Rules are evaluated in order; an organization mismatch is never overridden.
func (r *Resolver) Covers(b Binding, ctx Context) bool {
	if !b.OrgID().Equals(ctx.OrgID) {
		return false
	}

	switch b.Scope() {
	case LevelOrg:
		return true
	case LevelLocation:
		if ctx.LocationID == nil {
			return true
		}
		return b.LocationID() != nil && b.LocationID().Equals(*ctx.LocationID)
	case LevelDepartment:
		if ctx.DepartmentID == nil && ctx.LocationID == nil {
			return true
		}
		dept := b.DepartmentID()
		if dept == nil {
			return false
		}
		if ctx.DepartmentID != nil && dept.Equals(*ctx.DepartmentID) {
			return true
		}
		// With visibility on, the owning location is covered whatever
		// department the context names.
		if !r.departmentLocationVisibility || ctx.LocationID == nil {
			return false
		}
		loc, ok := r.locationOf(*dept)
		return ok && loc.Equals(*ctx.LocationID)
	default:
		return false
	}
}

func (r *Resolver) locationOf(departmentID shared.ID) (shared.ID, bool) {
	if r == nil || r.directory == nil {
		return shared.ID{}, false
	}
	return r.directory.LocationOf(departmentID)
}

// AccessibleLocations returns the locations reachable through the active
// bindings of one organization. Any active organization-wide binding, or a
// location binding without a location, yields All.
func AccessibleLocations[B Binding](r *Resolver, bindings []B, orgID shared.ID, now time.Time) LocationSet {
	var ids []shared.ID
	seen := make(map[shared.ID]struct{})
	add := func(id shared.ID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, b := range bindings {
		if !b.IsActive(now) || !b.OrgID().Equals(orgID) {
			continue
		}
		switch b.Scope() {
		case LevelOrg:
			return All()
		case LevelLocation:
			if b.LocationID() == nil {
				return All()
			}
			add(*b.LocationID())
		case LevelDepartment:
			if b.DepartmentID() == nil {
				continue
			}
			if loc, ok := r.locationOf(*b.DepartmentID()); ok {
				add(loc)
			}
		}
	}
	return Only(ids...)
}
