package websocket

import (
	"context"
	"slices"
	"sync"

	"github.com/ehrconnect/authz/internal/infra/eventbus"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Hub configuration constants
const (
	// Max connections per user for rate limiting
	defaultMaxConnectionsPerUser = 10
)

// Hub maintains the set of active clients. Event fan-out is done by the
// event bus; each client subscription is a bus subscription.
type Hub struct {
	bus *eventbus.Bus

	// Registered clients
	clients map[*Client]bool

	// User connection counts for rate limiting
	userConnCounts  map[shared.ID]int
	maxConnsPerUser int

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	logger *logger.Logger

	// Authorization function
	authorizeFn AuthorizeFunc

	// Mutex for concurrent access
	mu sync.RWMutex
}

// AuthorizeFunc is a function that checks if a client can subscribe to a channel.
type AuthorizeFunc func(client *Client, channel string) bool

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMaxConnectionsPerUser caps concurrent connections of one user.
func WithMaxConnectionsPerUser(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxConnsPerUser = n
		}
	}
}

// NewHub creates a new Hub fed by bus.
func NewHub(bus *eventbus.Bus, log *logger.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		bus:             bus,
		clients:         make(map[*Client]bool),
		userConnCounts:  make(map[shared.ID]int),
		maxConnsPerUser: defaultMaxConnectionsPerUser,
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		done:            make(chan struct{}),
		logger:          log.With("component", "websocket_hub"),
		authorizeFn:     defaultAuthorize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// defaultAuthorize allows a session its own user channel and its
// organization's channel, nothing else.
func defaultAuthorize(client *Client, channel string) bool {
	return slices.Contains(Channels(client.UserID, client.OrgID), channel)
}

// SetAuthorizeFunc sets a custom authorization function.
func (h *Hub) SetAuthorizeFunc(fn AuthorizeFunc) {
	h.authorizeFn = fn
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopping")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			count := h.userConnCounts[client.UserID]
			if count >= h.maxConnsPerUser {
				h.mu.Unlock()
				h.logger.Warn("connection limit exceeded",
					"user_id", client.UserID,
					"current", count,
					"max", h.maxConnsPerUser,
				)
				client.Close()
				continue
			}
			h.userConnCounts[client.UserID] = count + 1
			h.clients[client] = true
			h.mu.Unlock()

			h.logger.Debug("client registered",
				"client_id", client.ID,
				"user_id", client.UserID,
				"org_id", client.OrgID,
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if count := h.userConnCounts[client.UserID]; count > 1 {
					h.userConnCounts[client.UserID] = count - 1
				} else {
					delete(h.userConnCounts, client.UserID)
				}
			}
			h.mu.Unlock()

			h.logger.Debug("client unregistered",
				"client_id", client.ID,
				"user_id", client.UserID,
			)
		}
	}
}

// RegisterClient registers a new client.
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// UnregisterClient unregisters a client.
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// authorizeSubscription checks if a client can subscribe to a channel.
func (h *Hub) authorizeSubscription(client *Client, channel string) bool {
	if h.authorizeFn == nil {
		return false
	}
	return h.authorizeFn(client, channel)
}

// closeAllClients closes all client connections.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
	h.userConnCounts = make(map[shared.ID]int)
}

// GetStats returns hub statistics.
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{
		TotalClients: len(h.clients),
		Users:        len(h.userConnCounts),
	}
	for client := range h.clients {
		stats.TotalSubscriptions += len(client.GetSubscriptions())
	}
	return stats
}

// HubStats contains hub statistics.
type HubStats struct {
	TotalClients       int `json:"total_clients"`
	Users              int `json:"users"`
	TotalSubscriptions int `json:"total_subscriptions"`
}

// ConnectionCount returns the number of open connections of a user.
func (h *Hub) ConnectionCount(userID shared.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userConnCounts[userID]
}
