package assignment

import (
	"time"

	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Summary is a display projection of an active assignment.
type Summary struct {
	AssignmentID    shared.ID   `json:"assignment_id"`
	RoleID          shared.ID   `json:"role_id"`
	RoleKey         string      `json:"role_key"`
	RoleName        string      `json:"role_name"`
	Scope           scope.Level `json:"scope"`
	LocationID      *shared.ID  `json:"location_id,omitempty"`
	LocationLabel   string      `json:"location_label,omitempty"`
	DepartmentID    *shared.ID  `json:"department_id,omitempty"`
	DepartmentLabel string      `json:"department_label,omitempty"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
}

// Labeler resolves display names for locations and departments.
type Labeler interface {
	LocationLabel(id shared.ID) string
	DepartmentLabel(id shared.ID) string
}

// Summarize builds a Summary. labels may be nil.
func Summarize(a *Assignment, roleKey, roleName string, labels Labeler) Summary {
	s := Summary{
		AssignmentID: a.id,
		RoleID:       a.roleID,
		RoleKey:      roleKey,
		RoleName:     roleName,
		Scope:        a.scope,
		LocationID:   a.locationID,
		DepartmentID: a.departmentID,
		ExpiresAt:    a.expiresAt,
	}
	if labels != nil {
		if a.locationID != nil {
			s.LocationLabel = labels.LocationLabel(*a.locationID)
		}
		if a.departmentID != nil {
			s.DepartmentLabel = labels.DepartmentLabel(*a.departmentID)
		}
	}
	return s
}
