package assignment

import (
	"context"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Repository defines assignment persistence. Rows are never deleted.
type Repository interface {
	Create(ctx context.Context, a *Assignment) error
	GetByID(ctx context.Context, id shared.ID) (*Assignment, error)

	// Revoke persists the end marker set by Assignment.Revoke.
	Revoke(ctx context.Context, a *Assignment) error

	// ListForUser returns the user's unrevoked assignments, expired ones
	// included. Callers decide activity with IsActive.
	ListForUser(ctx context.Context, userID shared.ID) ([]*Assignment, error)

	// ListExpiredBetween returns unrevoked assignments whose expiry falls in (from, to].
	ListExpiredBetween(ctx context.Context, from, to time.Time) ([]*Assignment, error)
}
