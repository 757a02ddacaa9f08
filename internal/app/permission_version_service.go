package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ehrconnect/authz/internal/infra/redis"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// PermissionVersionService tracks a per-user generation counter in Redis.
// The counter is bumped whenever the user's effective set may have changed and
// is reported as the set's generation, so clients can tell a refetch apart
// from a replay.
//
// Key format: perm_ver:{user_id} -> integer
type PermissionVersionService struct {
	store  redis.CounterStore
	logger *logger.Logger
}

const (
	permVersionPrefix = "perm_ver"
	permVersionTTL    = 30 * 24 * time.Hour
)

// NewPermissionVersionService creates a new permission version service.
func NewPermissionVersionService(store redis.CounterStore, log *logger.Logger) *PermissionVersionService {
	return &PermissionVersionService{
		store:  store,
		logger: log.With("service", "permission_version"),
	}
}

func (s *PermissionVersionService) buildKey(userID shared.ID) string {
	return fmt.Sprintf("%s:%s", permVersionPrefix, userID)
}

// Get returns the current generation for a user, 0 if none was recorded
// or Redis is unavailable.
func (s *PermissionVersionService) Get(ctx context.Context, userID shared.ID) int64 {
	val, err := s.store.Get(ctx, s.buildKey(userID))
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Increment atomically bumps a user's generation and returns the new value.
func (s *PermissionVersionService) Increment(ctx context.Context, userID shared.ID) int64 {
	n, err := s.store.Incr(ctx, s.buildKey(userID), permVersionTTL)
	if err != nil {
		s.logger.Error("failed to increment permission version",
			"user_id", userID,
			"error", err,
		)
		return 0
	}

	s.logger.Debug("permission version incremented",
		"user_id", userID,
		"new_version", n,
	)
	return n
}

// IncrementForUsers bumps the generation of several users.
func (s *PermissionVersionService) IncrementForUsers(ctx context.Context, userIDs []shared.ID) {
	for _, id := range userIDs {
		s.Increment(ctx, id)
	}
}
