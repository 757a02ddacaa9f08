package role

import (
	"fmt"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Role errors.
var (
	ErrRoleNotFound           = fmt.Errorf("%w: role not found", shared.ErrNotFound)
	ErrRoleKeyExists          = fmt.Errorf("%w: role key already exists", shared.ErrAlreadyExists)
	ErrCannotModifySystemRole = fmt.Errorf("%w: system roles are immutable", shared.ErrForbidden)
	ErrCannotDeleteSystemRole = fmt.Errorf("%w: system roles cannot be deleted", shared.ErrForbidden)
	ErrRoleInUse              = fmt.Errorf("%w: role has active assignments", shared.ErrConflict)
	ErrRoleDeleted            = fmt.Errorf("%w: role has been deleted", shared.ErrConflict)
)
