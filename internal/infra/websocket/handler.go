package websocket

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/ehrconnect/authz/internal/infra/http/middleware"
	"github.com/ehrconnect/authz/pkg/apierror"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Handler handles WebSocket connections.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates a new WebSocket handler. With no allowed origins only
// same-origin upgrades are accepted; "*" accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string, log *logger.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		logger: log.With("component", "websocket_handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		}
	}
	return h
}

// ServeWS handles WebSocket upgrade requests.
// GET /api/v1/ws?token=xxx
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	orgID := middleware.GetOrgID(ctx)

	if userID.IsZero() || orgID.IsZero() {
		h.logger.Warn("websocket connection attempt without auth",
			"remote_addr", r.RemoteAddr,
		)
		apierror.Unauthorized("authentication required").WriteJSON(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("websocket upgrade failed",
			"user_id", userID,
			"error", err,
		)
		return
	}

	client := NewClient(h.hub, conn, userID, orgID, h.logger)
	h.hub.RegisterClient(client)

	h.logger.Info("websocket client connected",
		"client_id", client.ID,
		"user_id", userID,
		"org_id", orgID,
		"remote_addr", r.RemoteAddr,
	)

	go client.WritePump()
	go client.ReadPump()
}

// Hub returns the hub instance.
func (h *Handler) Hub() *Hub {
	return h.hub
}
