package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ehrconnect/authz/internal/infra/redis"
	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// PermissionCacheService caches effective permission sets in Redis.
// On a miss, or when Redis is unavailable, the set is computed from the store.
//
// Key format: eff_set:{user_id} -> JSON effective set
type PermissionCacheService struct {
	cache  redis.CacheStore[accesscontrol.EffectivePermissionSet]
	logger *logger.Logger
}

const (
	permCachePrefix     = "eff_set"
	defaultPermCacheTTL = 5 * time.Minute
)

// NewPermissionCacheService creates a new permission cache service.
func NewPermissionCacheService(client *redis.Client, ttl time.Duration, log *logger.Logger) (*PermissionCacheService, error) {
	if ttl <= 0 {
		ttl = defaultPermCacheTTL
	}
	cache, err := redis.NewCache[accesscontrol.EffectivePermissionSet](client, permCachePrefix, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission cache: %w", err)
	}
	return &PermissionCacheService{
		cache:  cache,
		logger: log.With("service", "permission_cache"),
	}, nil
}

// GetOrLoad returns the cached set of a user or computes and caches it.
func (s *PermissionCacheService) GetOrLoad(
	ctx context.Context,
	userID shared.ID,
	load func(ctx context.Context) (*accesscontrol.EffectivePermissionSet, error),
) (*accesscontrol.EffectivePermissionSet, error) {
	return s.cache.GetOrSetFallback(ctx, userID.String(), load)
}

// Invalidate removes the cached set of a user.
func (s *PermissionCacheService) Invalidate(ctx context.Context, userID shared.ID) {
	if err := s.cache.Delete(ctx, userID.String()); err != nil {
		s.logger.Warn("failed to invalidate permission cache",
			"user_id", userID,
			"error", err,
		)
		return
	}
	s.logger.Debug("permission cache invalidated", "user_id", userID)
}

// InvalidateForUsers removes the cached sets of several users.
func (s *PermissionCacheService) InvalidateForUsers(ctx context.Context, userIDs []shared.ID) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = id.String()
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate permission cache for users",
			"user_count", len(userIDs),
			"error", err,
		)
		return
	}
	s.logger.Info("permission cache invalidated for users", "user_count", len(userIDs))
}

// InvalidateAll drops every cached set. Used after the policy document changes.
func (s *PermissionCacheService) InvalidateAll(ctx context.Context) {
	if err := s.cache.DeletePattern(ctx, "*"); err != nil {
		s.logger.Warn("failed to flush permission cache", "error", err)
	}
}
