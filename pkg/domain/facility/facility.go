// Package facility models the locations and departments assignments are scoped to.
package facility

import (
	"context"
	"sync/atomic"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Location is a physical site of an organization.
type Location struct {
	ID    shared.ID
	OrgID shared.ID
	Name  string
}

// Department is a unit inside one location.
type Department struct {
	ID         shared.ID
	OrgID      shared.ID
	LocationID shared.ID
	Name       string
}

// Repository reads the facility catalog.
type Repository interface {
	ListLocations(ctx context.Context) ([]Location, error)
	ListDepartments(ctx context.Context) ([]Department, error)
}

// Directory is an immutable snapshot of locations and departments.
type Directory struct {
	locations   map[shared.ID]Location
	departments map[shared.ID]Department
}

// NewDirectory indexes a catalog. Departments pointing at an unknown
// location are kept; LocationOf still reports their location.
func NewDirectory(locations []Location, departments []Department) *Directory {
	d := &Directory{
		locations:   make(map[shared.ID]Location, len(locations)),
		departments: make(map[shared.ID]Department, len(departments)),
	}
	for _, l := range locations {
		d.locations[l.ID] = l
	}
	for _, dep := range departments {
		d.departments[dep.ID] = dep
	}
	return d
}

// Size is the number of locations plus departments.
func (d *Directory) Size() int {
	if d == nil {
		return 0
	}
	return len(d.locations) + len(d.departments)
}

// LocationOf returns the location owning a department.
func (d *Directory) LocationOf(departmentID shared.ID) (shared.ID, bool) {
	if d == nil {
		return shared.ID{}, false
	}
	dep, ok := d.departments[departmentID]
	if !ok {
		return shared.ID{}, false
	}
	return dep.LocationID, true
}

// LocationLabel returns a location's name, or "" when unknown.
func (d *Directory) LocationLabel(id shared.ID) string {
	if d == nil {
		return ""
	}
	return d.locations[id].Name
}

// DepartmentLabel returns a department's name, or "" when unknown.
func (d *Directory) DepartmentLabel(id shared.ID) string {
	if d == nil {
		return ""
	}
	return d.departments[id].Name
}

// Location returns a location by ID.
func (d *Directory) Location(id shared.ID) (Location, bool) {
	if d == nil {
		return Location{}, false
	}
	l, ok := d.locations[id]
	return l, ok
}

// Department returns a department by ID.
func (d *Directory) Department(id shared.ID) (Department, bool) {
	if d == nil {
		return Department{}, false
	}
	dep, ok := d.departments[id]
	return dep, ok
}

// Live holds the current Directory and swaps it atomically on reload.
// Readers never block.
type Live struct {
	current atomic.Pointer[Directory]
}

// NewLive creates a Live directory seeded with d, or an empty one when d is nil.
func NewLive(d *Directory) *Live {
	l := &Live{}
	if d == nil {
		d = NewDirectory(nil, nil)
	}
	l.current.Store(d)
	return l
}

// Snapshot returns the current directory.
func (l *Live) Snapshot() *Directory { return l.current.Load() }

// Replace installs a new snapshot.
func (l *Live) Replace(d *Directory) {
	if d != nil {
		l.current.Store(d)
	}
}

// Reload fetches the catalog from repo and installs it.
func (l *Live) Reload(ctx context.Context, repo Repository) error {
	locs, err := repo.ListLocations(ctx)
	if err != nil {
		return err
	}
	deps, err := repo.ListDepartments(ctx)
	if err != nil {
		return err
	}
	l.Replace(NewDirectory(locs, deps))
	return nil
}

func (l *Live) LocationOf(departmentID shared.ID) (shared.ID, bool) {
	return l.Snapshot().LocationOf(departmentID)
}

func (l *Live) LocationLabel(id shared.ID) string { return l.Snapshot().LocationLabel(id) }

func (l *Live) DepartmentLabel(id shared.ID) string { return l.Snapshot().DepartmentLabel(id) }
