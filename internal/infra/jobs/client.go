package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	return &Client{
		client: asynq.NewClient(redisOpt),
		logger: log.With("component", "job_client"),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueRoleMembersInvalidate queues a refresh of every member of a role.
// A refresh for the same role that is already pending absorbs this one.
func (c *Client) EnqueueRoleMembersInvalidate(ctx context.Context, orgID, roleID shared.ID) error {
	task, err := NewRoleMembersInvalidateTask(RoleMembersInvalidatePayload{
		OrgID:  orgID.String(),
		RoleID: roleID.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.Debug("role members refresh already queued",
			"org_id", orgID,
			"role_id", roleID,
		)
		return nil
	}
	if err != nil {
		c.logger.Error("failed to enqueue role members refresh",
			"org_id", orgID,
			"role_id", roleID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("role members refresh queued",
		"task_id", info.ID,
		"role_id", roleID,
		"queue", info.Queue,
	)
	return nil
}
