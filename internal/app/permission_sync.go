package app

import (
	"context"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// PermissionSync drops cached sets and bumps generations after a change.
// Either part may be nil.
type PermissionSync struct {
	Cache    *PermissionCacheService
	Versions *PermissionVersionService
}

// Touch marks the users' effective sets as changed.
func (p *PermissionSync) Touch(ctx context.Context, userIDs ...shared.ID) {
	if p == nil || len(userIDs) == 0 {
		return
	}
	if p.Cache != nil {
		p.Cache.InvalidateForUsers(ctx, userIDs)
	}
	if p.Versions != nil {
		p.Versions.IncrementForUsers(ctx, userIDs)
	}
}
