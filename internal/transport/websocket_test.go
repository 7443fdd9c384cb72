package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/speaklink/internal/signaling"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *signaling.Relay, *SessionManager) {
	t.Helper()
	sm := NewSessionManager(16, nil)
	relay := signaling.NewRelay(sm, signaling.Options{})
	srv := httptest.NewServer(NewWebSocketHandler(sm, relay, "", true))
	t.Cleanup(func() {
		srv.Close()
		relay.Close()
	})
	return srv, relay, sm
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))
}

// readUntil reads frames until one carries event and returns its data.
func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, raw, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", event)
		var frame inbound
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame.Event == event {
			return frame.Data
		}
	}
}

func online(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	readUntil(t, conn, EventConnect)
	send(t, conn, signaling.EventUserOnline, map[string]any{"user_id": userID, "name": userID})
	readUntil(t, conn, signaling.EventUpdateOnlineUsers)
}

func TestWebSocket_CallFlow(t *testing.T) {
	srv, relay, _ := newTestServer(t)
	a := dial(t, srv)
	online(t, a, "u1")
	b := dial(t, srv)
	online(t, b, "u2")

	send(t, a, signaling.EventCallUser, map[string]any{"to": "u2", "offer": map[string]string{"type": "offer", "sdp": "O"}})
	var incoming struct {
		From  map[string]any  `json:"from"`
		Offer json.RawMessage `json:"offer"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, b, signaling.EventIncomingCall), &incoming))
	assert.Equal(t, "u1", incoming.From["user_id"])
	assert.JSONEq(t, `{"type":"offer","sdp":"O"}`, string(incoming.Offer))

	send(t, b, signaling.EventAnswerCall, map[string]any{"to": "u1", "answer": "X"})
	assert.JSONEq(t, `{"answer":"X"}`, string(readUntil(t, a, signaling.EventCallAccepted)))

	// Dropping B mid-call tells A the call is over.
	require.NoError(t, b.Close(websocket.StatusNormalClosure, "bye"))
	readUntil(t, a, signaling.EventCallEnded)

	require.Eventually(t, func() bool {
		_, ok := relay.Presence().Resolve("u2")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocket_CallOfflineUser(t *testing.T) {
	srv, _, _ := newTestServer(t)
	a := dial(t, srv)
	online(t, a, "u1")

	send(t, a, signaling.EventCallUser, map[string]any{"to": "ghost", "offer": "O"})
	assert.JSONEq(t, `{"message":"User is not online."}`, string(readUntil(t, a, signaling.EventCallFailed)))
}

func TestWebSocket_BadFramesKeepConnectionOpen(t *testing.T) {
	srv, _, sm := newTestServer(t)
	a := dial(t, srv)
	readUntil(t, a, EventConnect)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte("not json")))
	send(t, a, "no-such-event", map[string]any{})
	send(t, a, signaling.EventCallUser, map[string]any{"to": ""})

	send(t, a, signaling.EventGetOnlineUsers, nil)
	assert.JSONEq(t, `[]`, string(readUntil(t, a, signaling.EventUpdateOnlineUsers)))
	assert.Equal(t, 1, sm.Count())
}
