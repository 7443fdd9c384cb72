package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/speaklink/internal/identity"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// EventConnect is sent to a client once its session is registered.
	EventConnect = "connect"

	readLimit    = 8 << 20 // video frames arrive as base64 JPEG
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Dispatcher consumes session lifecycle and inbound events.
type Dispatcher interface {
	Connect(sessionID, verifiedUserID string)
	HandleEvent(sessionID, event string, data json.RawMessage) error
	Disconnect(sessionID string)
}

// inbound is the wire frame received from clients.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WebSocketHandler upgrades HTTP requests into relay sessions.
type WebSocketHandler struct {
	sm            *SessionManager
	dispatcher    Dispatcher
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sm *SessionManager, dispatcher Dispatcher, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sm:            sm,
		dispatcher:    dispatcher,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	verifiedUserID := identity.UserIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", identity.IPFromRequest(r))
		return
	}
	ws.SetReadLimit(readLimit)

	sessionID := uuid.NewString()
	slog.Info("WebSocket connected", "session_id", sessionID, "verified_user_id", verifiedUserID, "ip", identity.IPFromRequest(r))

	c := newClient(sessionID, h.sm.queueSize, func() {
		_ = ws.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
	})
	h.sm.Register(c)
	h.dispatcher.Connect(sessionID, verifiedUserID)
	h.sm.Emit(sessionID, EventConnect, map[string]string{"sid": sessionID})

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return h.readLoop(ctx, ws, sessionID) })
	g.Go(func() error { return h.writeLoop(ctx, ws, c) })
	err = g.Wait()

	h.sm.Unregister(c)
	h.dispatcher.Disconnect(sessionID)

	switch {
	case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
		slog.Debug("WebSocket closed", "session_id", sessionID, "status", websocket.CloseStatus(err))
	default:
		slog.Warn("WebSocket session ended with error", "session_id", sessionID, "error", err)
	}
	if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
		slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop dispatches inbound events in arrival order. It only returns
// when the connection fails or closes.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) error {
	for {
		typ, message, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			slog.Debug("Ignoring binary frame", "session_id", sessionID)
			continue
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil || msg.Event == "" {
			slog.Warn("Dropping undecodable frame", "session_id", sessionID, "error", err)
			continue
		}

		if err := h.dispatcher.HandleEvent(sessionID, msg.Event, msg.Data); err != nil {
			slog.Warn("Event dropped", "session_id", sessionID, "event", msg.Event, "error", err)
		}
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, c *client) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
