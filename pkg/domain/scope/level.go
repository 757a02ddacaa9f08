// Package scope decides whether a role assignment covers the organization,
// location and department a check is made against.
package scope

import (
	"fmt"
	"strings"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Level is the breadth of a role or an assignment.
type Level string

const (
	LevelPlatform   Level = "PLATFORM"
	LevelOrg        Level = "ORG"
	LevelLocation   Level = "LOCATION"
	LevelDepartment Level = "DEPARTMENT"
)

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", fmt.Errorf("%w: unknown scope level %q", shared.ErrValidation, s)
	}
	return l, nil
}

// IsValid reports whether l is one of the defined levels.
func (l Level) IsValid() bool {
	switch l {
	case LevelPlatform, LevelOrg, LevelLocation, LevelDepartment:
		return true
	}
	return false
}

// IsAssignable reports whether an assignment may be made at this level.
func (l Level) IsAssignable() bool {
	return l == LevelOrg || l == LevelLocation || l == LevelDepartment
}

// String returns the level name.
func (l Level) String() string { return string(l) }

func (l Level) rank() int {
	switch l {
	case LevelPlatform:
		return 0
	case LevelOrg:
		return 1
	case LevelLocation:
		return 2
	case LevelDepartment:
		return 3
	}
	return -1
}

// CanAssignAt reports whether a role whose narrowest level is roleLevel may be
// assigned at level at. Platform roles are only ever granted organization-wide.
func CanAssignAt(roleLevel, at Level) bool {
	if !at.IsAssignable() || !roleLevel.IsValid() {
		return false
	}
	if roleLevel == LevelPlatform {
		return at == LevelOrg
	}
	return at.rank() <= roleLevel.rank()
}
