// Package transport provides the WebSocket session layer the relay talks through.
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/speaklink/internal/metrics"
)

// DefaultQueueSize is the per-session outbound buffer when none is configured.
const DefaultQueueSize = 64

// outbound is the wire frame sent to clients.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// client is one open session. closeSlow tears the connection down when
// the client cannot keep up with its queue.
type client struct {
	id        string
	send      chan []byte
	closeSlow func()
	closeOnce sync.Once
}

func newClient(id string, queueSize int, closeSlow func()) *client {
	return &client{id: id, send: make(chan []byte, queueSize), closeSlow: closeSlow}
}

func (c *client) kick() {
	c.closeOnce.Do(func() {
		if c.closeSlow != nil {
			c.closeSlow()
		}
	})
}

// SessionManager tracks open sessions and fans outbound events out to them.
type SessionManager struct {
	mu        sync.RWMutex
	active    map[string]*client
	queueSize int
	metrics   *metrics.Metrics
}

// NewSessionManager creates a new session manager.
func NewSessionManager(queueSize int, m *metrics.Metrics) *SessionManager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &SessionManager{
		active:    make(map[string]*client),
		queueSize: queueSize,
		metrics:   m,
	}
}

// Register adds a session.
func (m *SessionManager) Register(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[c.id] = c
	m.metrics.SessionOpened()
	slog.Debug("Session registered", "session_id", c.id)
}

// Unregister removes a session if c is still the one registered under its id.
func (m *SessionManager) Unregister(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[c.id]; ok && current == c {
		delete(m.active, c.id)
		m.metrics.SessionClosed()
		slog.Debug("Session unregistered", "session_id", c.id)
	}
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Emit queues one event for sessionID. It returns false if the session is not open.
func (m *SessionManager) Emit(sessionID, event string, payload any) bool {
	m.mu.RLock()
	c, ok := m.active[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	msg, err := encode(event, payload)
	if err != nil {
		slog.Error("Failed to encode outbound event", "event", event, "error", err)
		return false
	}
	m.enqueue(c, event, msg)
	return true
}

// Broadcast queues one event for every open session.
func (m *SessionManager) Broadcast(event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		slog.Error("Failed to encode broadcast event", "event", event, "error", err)
		return
	}

	m.mu.RLock()
	clients := make([]*client, 0, len(m.active))
	for _, c := range m.active {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		m.enqueue(c, event, msg)
	}
}

// CloseAll disconnects every session, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.RLock()
	clients := make([]*client, 0, len(m.active))
	for _, c := range m.active {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		c.kick()
	}
}

func (m *SessionManager) enqueue(c *client, event string, msg []byte) {
	select {
	case c.send <- msg:
	default:
		// Signaling messages are never dropped from a live session.
		m.metrics.SlowConsumer()
		slog.Warn("Outbound queue full, closing slow session",
			"session_id", c.id,
			"event", event,
			"queue_len", len(c.send))
		c.kick()
	}
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}
