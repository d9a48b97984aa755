package live

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/qa-demo/internal/identity"
	"github.com/ashureev/qa-demo/internal/session"
)

// Handler upgrades /ws/history requests and streams redraws for the caller's session.
type Handler struct {
	hub            *Hub
	sessions       *session.Manager
	originPatterns []string
}

// NewHandler creates a WebSocket handler. originPatterns follow
// websocket.AcceptOptions; nil allows same-origin only.
func NewHandler(hub *Hub, sessions *session.Manager, originPatterns []string) *Handler {
	return &Handler{hub: hub, sessions: sessions, originPatterns: originPatterns}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := session.Key{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
	}
	if key.UserID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.CloseNow(); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()

	// A closed socket restarts the idle clock for the session.
	defer func() {
		if sess, ok := h.sessions.Lookup(key); ok {
			sess.Touch()
		}
	}()

	c := h.hub.register(key, ws)
	defer h.hub.unregister(key, ws)

	// The socket is push-only; CloseRead drains control frames and cancels
	// ctx once the browser goes away.
	ctx := ws.CloseRead(r.Context())

	snap := h.sessions.Get(key).Snapshot()
	data, err := marshalHistory(snap)
	if err != nil {
		slog.Error("Failed to marshal history frame", "error", err)
		return
	}
	c.offer(snap.Version, data)

	if err := c.writeLoop(ctx); err != nil && ctx.Err() == nil {
		slog.Debug("History socket write failed", "error", err, "user_id", key.UserID, "session_id", key.SessionID)
	}
	slog.Debug("History socket closed", "user_id", key.UserID, "session_id", key.SessionID)
}
