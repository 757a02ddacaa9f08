package app

import (
	"context"

	"github.com/ehrconnect/authz/internal/metrics"
	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// EventPublisher emits permission change events after a write commits.
type EventPublisher interface {
	Publish(ctx context.Context, e event.PermissionChange) error
}

// LocalSink receives events in process. The event bus satisfies it.
type LocalSink interface {
	Publish(e event.PermissionChange) int
}

// LocalPublisher delivers events straight to an in-process sink. It is used
// when no cross-instance relay is configured.
type LocalPublisher struct {
	sink LocalSink
}

// NewLocalPublisher creates a LocalPublisher.
func NewLocalPublisher(sink LocalSink) *LocalPublisher {
	return &LocalPublisher{sink: sink}
}

// Publish implements EventPublisher.
func (p *LocalPublisher) Publish(_ context.Context, e event.PermissionChange) error {
	if err := e.Validate(); err != nil {
		return err
	}
	p.sink.Publish(e)
	return nil
}

// RoleMembersInvalidator refreshes cached sets of every member of a role in
// the background.
type RoleMembersInvalidator interface {
	EnqueueRoleMembersInvalidate(ctx context.Context, orgID, roleID shared.ID) error
}

// emit publishes e. The write it describes has already committed, so a
// failure is logged and counted, never returned.
func emit(ctx context.Context, pub EventPublisher, log *logger.Logger, e event.PermissionChange) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, e); err != nil {
		log.Error("failed to publish permission change",
			"type", e.Type,
			"keys", e.Keys(),
			"error", err,
		)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(e.Type)).Inc()
}
