package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ehrconnect/authz/internal/infra/eventbus"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBufferSize = 64
)

// Client represents a single WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *logger.Logger

	// Identity
	ID     string
	UserID shared.ID
	OrgID  shared.ID

	// Subscriptions (channel -> bus subscription)
	subscriptions map[string]*eventbus.Subscription
	subMu         sync.Mutex

	// State
	closed bool
	mu     sync.Mutex
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn, userID, orgID shared.ID, log *logger.Logger) *Client {
	id := shared.NewID().String()
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		logger:        log.With("client_id", id),
		ID:            id,
		UserID:        userID,
		OrgID:         orgID,
		subscriptions: make(map[string]*eventbus.Subscription),
	}
}

// Subscribe starts forwarding events of channel to the connection.
// Returns false if already subscribed or the client is closed.
func (c *Client) Subscribe(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	// Close marks the client before it releases subscriptions under subMu.
	if c.isClosed() {
		return false
	}
	if _, ok := c.subscriptions[channel]; ok {
		return false
	}
	sub := c.hub.bus.Subscribe(channel)
	c.subscriptions[channel] = sub
	go c.forward(channel, sub)
	return true
}

func (c *Client) forward(channel string, sub *eventbus.Subscription) {
	for e := range sub.Events() {
		if err := c.SendMessage(EventMessage(channel, e)); err != nil {
			c.logger.Debug("failed to send event", "channel", channel, "error", err)
		}
	}
}

// Unsubscribe stops forwarding a channel.
func (c *Client) Unsubscribe(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, ok := c.subscriptions[channel]
	if !ok {
		return false
	}
	sub.Unsubscribe()
	delete(c.subscriptions, channel)
	return true
}

// IsSubscribed checks if client is subscribed to a channel.
func (c *Client) IsSubscribed(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// GetSubscriptions returns all subscribed channels.
func (c *Client) GetSubscriptions() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	channels := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		channels = append(channels, ch)
	}
	return channels
}

// SendMessage queues a message for the client. A full buffer drops the
// message; the session refetches on the next event anyway.
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping message", "user_id", c.UserID)
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.subMu.Lock()
	for ch, sub := range c.subscriptions {
		sub.Unsubscribe()
		delete(c.subscriptions, ch)
	}
	c.subMu.Unlock()

	_ = c.conn.Close()
}

// ReadPump pumps messages from the WebSocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("invalid websocket message", "error", err)
			c.sendError("INVALID_MESSAGE", "Invalid message format", "")
			continue
		}
		c.handleMessage(&msg)
	}
}

// WritePump pumps messages from the send buffer to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one message per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from client.
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.handleSubscribe(msg)
	case MessageTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case MessageTypePing:
		_ = c.SendMessage(NewMessage(MessageTypePong).WithRequestID(msg.RequestID))
	default:
		c.sendError("UNKNOWN_MESSAGE_TYPE", "Unknown message type: "+string(msg.Type), msg.RequestID)
	}
}

func parseRequest(msg *Message) SubscribeRequest {
	var req SubscribeRequest
	if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &req) != nil || req.Channel == "" {
		req.Channel = msg.Channel
	}
	if req.RequestID == "" {
		req.RequestID = msg.RequestID
	}
	return req
}

// handleSubscribe processes subscribe requests.
func (c *Client) handleSubscribe(msg *Message) {
	req := parseRequest(msg)
	if req.Channel == "" {
		c.sendError("INVALID_CHANNEL", "Channel is required", req.RequestID)
		return
	}
	if !c.hub.authorizeSubscription(c, req.Channel) {
		c.logger.Warn("subscription denied", "user_id", c.UserID, "channel", req.Channel)
		c.sendError("FORBIDDEN", "Access denied to channel", req.RequestID)
		return
	}

	if c.Subscribe(req.Channel) {
		c.logger.Debug("client subscribed", "channel", req.Channel)
	}
	_ = c.SendMessage(NewMessage(MessageTypeSubscribed).
		WithChannel(req.Channel).
		WithRequestID(req.RequestID))
}

// handleUnsubscribe processes unsubscribe requests. Repeated requests are
// confirmed like the first.
func (c *Client) handleUnsubscribe(msg *Message) {
	req := parseRequest(msg)
	if req.Channel == "" {
		c.sendError("INVALID_CHANNEL", "Channel is required", req.RequestID)
		return
	}

	if c.Unsubscribe(req.Channel) {
		c.logger.Debug("client unsubscribed", "channel", req.Channel)
	}
	_ = c.SendMessage(NewMessage(MessageTypeUnsubscribed).
		WithChannel(req.Channel).
		WithRequestID(req.RequestID))
}

// sendError sends an error message to the client.
func (c *Client) sendError(code, message, requestID string) {
	_ = c.SendMessage(NewMessage(MessageTypeError).
		WithData(ErrorData{Code: code, Message: message}).
		WithRequestID(requestID))
}
