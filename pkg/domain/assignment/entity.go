// Package assignment provides the role assignment entity, which binds a user
// to a role inside one organization at one scope.
package assignment

import (
	"time"

	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Assignment binds one user to one role.
type Assignment struct {
	id           shared.ID
	userID       shared.ID
	roleID       shared.ID
	orgID        shared.ID
	scope        scope.Level
	locationID   *shared.ID
	departmentID *shared.ID
	assignedBy   *shared.ID
	assignedAt   time.Time
	expiresAt    *time.Time
	revokedAt    *time.Time
	revokedBy    *shared.ID
}

// Params holds the inputs of New.
type Params struct {
	UserID       shared.ID
	RoleID       shared.ID
	OrgID        shared.ID
	Scope        scope.Level
	LocationID   *shared.ID
	DepartmentID *shared.ID
	AssignedBy   *shared.ID
	ExpiresAt    *time.Time
}

// New validates p and creates an assignment.
// A LOCATION assignment names exactly a location, a DEPARTMENT assignment
// exactly a department, and an ORG assignment neither.
func New(p Params, now time.Time) (*Assignment, error) {
	if p.UserID.IsZero() || p.RoleID.IsZero() || p.OrgID.IsZero() {
		return nil, shared.NewValidationError("user, role and org ids are required")
	}
	if !p.Scope.IsAssignable() {
		return nil, shared.NewValidationError("scope must be ORG, LOCATION or DEPARTMENT")
	}

	switch p.Scope {
	case scope.LevelOrg:
		if p.LocationID != nil || p.DepartmentID != nil {
			return nil, shared.NewValidationError("ORG assignments cannot name a location or department")
		}
	case scope.LevelLocation:
		if p.LocationID == nil || p.DepartmentID != nil {
			return nil, shared.NewValidationError("LOCATION assignments require location_id only")
		}
	case scope.LevelDepartment:
		if p.DepartmentID == nil || p.LocationID != nil {
			return nil, shared.NewValidationError("DEPARTMENT assignments require department_id only")
		}
	}

	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return nil, shared.NewValidationError("expires_at must be in the future")
	}

	return &Assignment{
		id:           shared.NewID(),
		userID:       p.UserID,
		roleID:       p.RoleID,
		orgID:        p.OrgID,
		scope:        p.Scope,
		locationID:   p.LocationID,
		departmentID: p.DepartmentID,
		assignedBy:   p.AssignedBy,
		assignedAt:   now.UTC(),
		expiresAt:    utcPtr(p.ExpiresAt),
	}, nil
}

// Reconstruct rebuilds an assignment from persistence.
func Reconstruct(
	id, userID, roleID, orgID shared.ID,
	level scope.Level,
	locationID, departmentID, assignedBy *shared.ID,
	assignedAt time.Time,
	expiresAt, revokedAt *time.Time,
	revokedBy *shared.ID,
) *Assignment {
	return &Assignment{
		id:           id,
		userID:       userID,
		roleID:       roleID,
		orgID:        orgID,
		scope:        level,
		locationID:   locationID,
		departmentID: departmentID,
		assignedBy:   assignedBy,
		assignedAt:   assignedAt,
		expiresAt:    expiresAt,
		revokedAt:    revokedAt,
		revokedBy:    revokedBy,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Getters

func (a *Assignment) ID() shared.ID { return a.id }
func (a *Assignment) UserID() shared.ID { return a.userID }
func (a *Assignment) RoleID() shared.ID { return a.roleID }
func (a *Assignment) OrgID() shared.ID { return a.orgID }
func (a *Assignment) Scope() scope.Level { return a.scope }
func (a *Assignment) LocationID() *shared.ID { return a.locationID }
func (a *Assignment) DepartmentID() *shared.ID { return a.departmentID }
func (a *Assignment) AssignedBy() *shared.ID { return a.assignedBy }
func (a *Assignment) AssignedAt() time.Time { return a.assignedAt }
func (a *Assignment) ExpiresAt() *time.Time { return a.expiresAt }
func (a *Assignment) RevokedAt() *time.Time { return a.revokedAt }
func (a *Assignment) RevokedBy() *shared.ID { return a.revokedBy }
func (a *Assignment) IsRevoked() bool { return a.revokedAt != nil }

// IsExpired reports whether the assignment's expiry has passed at now.
func (a *Assignment) IsExpired(now time.Time) bool {
	return a.expiresAt != nil && !a.expiresAt.After(now)
}

// IsActive reports whether the assignment grants anything at now.
// Expiry is evaluated here, at read time; expired rows stay in the store.
func (a *Assignment) IsActive(now time.Time) bool {
	return !a.IsRevoked() && !a.IsExpired(now)
}

// Revoke sets the end marker.
func (a *Assignment) Revoke(by *shared.ID, at time.Time) error {
	if a.IsRevoked() {
		return ErrAlreadyRevoked
	}
	at = at.UTC()
	a.revokedAt = &at
	a.revokedBy = by
	return nil
}
