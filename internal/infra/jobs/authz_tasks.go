package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// =============================================================================
// Task Types
// =============================================================================

const (
	// TypeRoleMembersInvalidate drops cached effective sets of every member
	// of a role after its definition changed.
	TypeRoleMembersInvalidate = "authz:role_members_invalidate"

	// QueueAuthz is the queue authorization maintenance runs on.
	QueueAuthz = "authz"
)

// roleMembersUniqueTTL coalesces repeated edits of one role into one task.
const roleMembersUniqueTTL = 30 * time.Second

// =============================================================================
// Task Payloads
// =============================================================================

// RoleMembersInvalidatePayload names the role whose members need a refresh.
type RoleMembersInvalidatePayload struct {
	OrgID  string `json:"org_id"`
	RoleID string `json:"role_id"`
}

// NewRoleMembersInvalidateTask creates the invalidation task.
func NewRoleMembersInvalidateTask(payload RoleMembersInvalidatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal role members payload: %w", err)
	}

	return asynq.NewTask(TypeRoleMembersInvalidate, data,
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueAuthz),
		asynq.Unique(roleMembersUniqueTTL),
	), nil
}

// =============================================================================
// Task Handler
// =============================================================================

// RoleMembersRefresher drops cached sets and bumps generations of every
// member of a role. It returns the number of members touched.
type RoleMembersRefresher interface {
	RefreshRoleMembers(ctx context.Context, orgID, roleID shared.ID) (int, error)
}

// AuthzTaskHandler handles authorization maintenance tasks.
type AuthzTaskHandler struct {
	refresher RoleMembersRefresher
	log       *logger.Logger
}

// NewAuthzTaskHandler creates a new handler.
func NewAuthzTaskHandler(refresher RoleMembersRefresher, log *logger.Logger) *AuthzTaskHandler {
	return &AuthzTaskHandler{
		refresher: refresher,
		log:       log.With("handler", "authz_tasks"),
	}
}

// HandleRoleMembersInvalidate handles TypeRoleMembersInvalidate. Malformed
// payloads are not retried.
func (h *AuthzTaskHandler) HandleRoleMembersInvalidate(ctx context.Context, t *asynq.Task) error {
	var payload RoleMembersInvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.Error("failed to unmarshal role members payload", "error", err)
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	orgID, err := shared.IDFromString(payload.OrgID)
	if err != nil {
		return fmt.Errorf("invalid org_id: %w: %w", err, asynq.SkipRetry)
	}
	roleID, err := shared.IDFromString(payload.RoleID)
	if err != nil {
		return fmt.Errorf("invalid role_id: %w: %w", err, asynq.SkipRetry)
	}

	n, err := h.refresher.RefreshRoleMembers(ctx, orgID, roleID)
	if err != nil {
		h.log.Error("failed to refresh role members",
			"org_id", payload.OrgID,
			"role_id", payload.RoleID,
			"error", err,
		)
		return err
	}

	h.log.Info("role members refreshed",
		"org_id", payload.OrgID,
		"role_id", payload.RoleID,
		"members", n,
	)
	return nil
}

// RegisterHandlers registers the handlers with the asynq server mux.
func (h *AuthzTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRoleMembersInvalidate, h.HandleRoleMembersInvalidate)
}
