package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/logger"
)

// DefaultPermissionChannel is the pub/sub channel permission changes travel on.
const DefaultPermissionChannel = "authz:permission_changes"

// EventSink receives decoded events. The in-process event bus satisfies it.
type EventSink interface {
	Publish(e event.PermissionChange) int
}

// PermissionNotifier relays permission change events between API instances.
// Publish writes to Redis only; the listener of every instance, this one
// included, hands each message to its local sink.
type PermissionNotifier struct {
	client  *Client
	channel string
	sink    EventSink
	logger  *logger.Logger
}

// NewPermissionNotifier creates a new PermissionNotifier.
func NewPermissionNotifier(client *Client, channel string, sink EventSink, log *logger.Logger) *PermissionNotifier {
	if channel == "" {
		channel = DefaultPermissionChannel
	}
	if log == nil {
		log = client.Logger()
	}
	return &PermissionNotifier{
		client:  client,
		channel: channel,
		sink:    sink,
		logger:  log.With("component", "permission_notifier"),
	}
}

// Channel returns the pub/sub channel name.
func (n *PermissionNotifier) Channel() string {
	return n.channel
}

// Publish sends an event to every instance.
func (n *PermissionNotifier) Publish(ctx context.Context, e event.PermissionChange) error {
	if err := e.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal permission change: %w", err)
	}

	done := Timed("publish")
	err = n.client.client.Publish(ctx, n.channel, data).Err()
	done(err)
	if err != nil {
		return fmt.Errorf("publish permission change: %w", err)
	}

	n.logger.Debug("published permission change",
		"type", e.Type,
		"keys", e.Keys(),
	)
	return nil
}

// StartListener subscribes to the channel and dispatches messages to the
// sink until ctx is cancelled. It returns once the subscription is confirmed.
func (n *PermissionNotifier) StartListener(ctx context.Context) error {
	if n.sink == nil {
		return errors.New("permission notifier has no sink")
	}

	pubsub := n.client.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to channel: %w", err)
	}

	n.logger.Info("permission notifier listening", "channel", n.channel)

	go n.listenLoop(ctx, pubsub)
	return nil
}

func (n *PermissionNotifier) listenLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("permission notifier stopping")
			return

		case msg, ok := <-ch:
			if !ok {
				n.logger.Warn("pub/sub channel closed")
				return
			}
			n.dispatch(msg.Payload)
		}
	}
}

func (n *PermissionNotifier) dispatch(payload string) {
	DefaultMetrics.relayReceived.Inc()

	var e event.PermissionChange
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		DefaultMetrics.relayInvalid.Inc()
		n.logger.Error("failed to unmarshal permission change", "error", err)
		return
	}
	if err := e.Validate(); err != nil {
		DefaultMetrics.relayInvalid.Inc()
		n.logger.Warn("dropping invalid permission change", "error", err)
		return
	}

	delivered := n.sink.Publish(e)
	n.logger.Debug("dispatched permission change",
		"type", e.Type,
		"delivered", delivered,
	)
}
