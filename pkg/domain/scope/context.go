package scope

import (
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Context is what an authorization check is made against.
// A nil LocationID or DepartmentID means the check is not narrowed to one.
type Context struct {
	OrgID        shared.ID
	LocationID   *shared.ID
	DepartmentID *shared.ID
}

// OrgContext builds an organization-level context.
func OrgContext(orgID shared.ID) Context {
	return Context{OrgID: orgID}
}

// AtLocation returns a copy of c narrowed to a location.
func (c Context) AtLocation(locationID shared.ID) Context {
	c.LocationID = &locationID
	return c
}

// InDepartment returns a copy of c narrowed to a department.
func (c Context) InDepartment(departmentID shared.ID) Context {
	c.DepartmentID = &departmentID
	return c
}

// Validate checks that the context names an organization.
func (c Context) Validate() error {
	if c.OrgID.IsZero() {
		return shared.NewValidationError("context org id is required")
	}
	return nil
}
