package assignment

import (
	"fmt"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

var (
	ErrAssignmentNotFound = fmt.Errorf("%w: assignment not found", shared.ErrNotFound)
	ErrAlreadyRevoked     = fmt.Errorf("%w: assignment already revoked", shared.ErrConflict)
	ErrScopeNotAllowed    = fmt.Errorf("%w: role cannot be assigned at this scope", shared.ErrValidation)
)
