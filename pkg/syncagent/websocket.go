package syncagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Frame types exchanged with the server hub.
const (
	frameSubscribe = "subscribe"
	frameEvent     = "event"
)

type frame struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}

// WebSocketDialer connects to the server's /api/v1/ws endpoint and
// subscribes to the session's user and organization channels.
type WebSocketDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL   string
	Token string
	// Channels defaults to the user and organization keys.
	Channels []string
	Dialer   *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for userID's session in orgID.
func NewWebSocketDialer(url, token string, userID, orgID shared.ID) *WebSocketDialer {
	return &WebSocketDialer{
		URL:      url,
		Token:    token,
		Channels: []string{event.UserKey(userID), event.OrgKey(orgID)},
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Stream, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d: %v", shared.ErrTransport, d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", shared.ErrTransport, d.URL, err)
	}

	for _, ch := range d.Channels {
		msg := frame{Type: frameSubscribe, Channel: ch, RequestID: ch, Timestamp: time.Now().UnixMilli()}
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: subscribe %s: %v", shared.ErrTransport, ch, err)
		}
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

// Next reads frames until an event arrives. Acknowledgements, pongs and
// subscription errors are skipped.
func (s *wsStream) Next(ctx context.Context) (event.PermissionChange, error) {
	for {
		if err := ctx.Err(); err != nil {
			return event.PermissionChange{}, err
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return event.PermissionChange{}, fmt.Errorf("%w: read: %v", shared.ErrTransport, err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type != frameEvent {
			continue
		}
		var e event.PermissionChange
		if err := json.Unmarshal(f.Data, &e); err != nil {
			continue
		}
		return e, nil
	}
}

// Close implements Stream. It is safe to call while Next is blocked.
func (s *wsStream) Close() error {
	return s.conn.Close()
}
