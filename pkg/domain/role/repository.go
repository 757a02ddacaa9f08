package role

import (
	"context"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Repository defines role persistence.
type Repository interface {
	// GetByID returns a role, including tombstoned ones.
	GetByID(ctx context.Context, id shared.ID) (*Role, error)

	// GetOverride returns an organization's override of a system role.
	GetOverride(ctx context.Context, orgID, parentID shared.ID) (*Role, error)

	// ListByIDs returns roles by ID, tombstoned ones included. Unknown IDs are omitted.
	ListByIDs(ctx context.Context, ids []shared.ID) ([]*Role, error)

	// ListForOrg returns system roles plus the organization's live roles.
	ListForOrg(ctx context.Context, orgID shared.ID) ([]*Role, error)

	Create(ctx context.Context, r *Role) error

	// CreateOverride stores an organization's copy of a system role and moves
	// the organization's live assignments of the system role onto it, atomically.
	CreateOverride(ctx context.Context, r *Role) error

	Update(ctx context.Context, r *Role) error

	// Tombstone persists the role's deleted marker.
	Tombstone(ctx context.Context, r *Role) error

	// UpsertSystem inserts or refreshes a seeded system role.
	UpsertSystem(ctx context.Context, r *Role) error

	// CountActiveAssignments counts unrevoked, unexpired assignments of a role.
	CountActiveAssignments(ctx context.Context, id shared.ID) (int, error)

	// ListMemberUserIDs returns users holding the role, or any role derived
	// from it, inside orgID.
	ListMemberUserIDs(ctx context.Context, orgID, id shared.ID) ([]shared.ID, error)
}
