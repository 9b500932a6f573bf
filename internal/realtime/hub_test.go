package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func serveHub(t *testing.T, hub *Hub, userID string, streams ...string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, streams, w, r)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubPublishInboxReachesSubscriber(t *testing.T) {
	hub := NewHub()
	conn := serveHub(t, hub, "user-1", StreamInbox)

	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamInbox, "user-1") == 1
	}, time.Second, 10*time.Millisecond)

	hub.PublishInbox("user-2", "inbox.updated", nil)
	hub.PublishInbox("user-1", "inbox.updated", map[string]any{"type": "invitation"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, StreamInbox, msg.Stream)
	require.Equal(t, "inbox.updated", msg.Event)
	require.Equal(t, map[string]any{"type": "invitation"}, msg.Data)
}

func TestHubControlMessages(t *testing.T) {
	hub := NewHub()
	conn := serveHub(t, hub, "user-1", "unknown")

	require.Never(t, func() bool {
		return hub.Subscribers("unknown", "user-1") > 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "subscribe", Streams: []string{" INBOX "}}))
	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamInbox, "user-1") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "ping"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var pong Message
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, "pong", pong.Event)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "unsubscribe", Streams: []string{StreamInbox}}))
	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamInbox, "user-1") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub()
	conn := serveHub(t, hub, "user-1", StreamInbox)

	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamInbox, "user-1") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamInbox, "user-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubCheckOrigin(t *testing.T) {
	hub := NewHub(WithAllowedOrigins("https://app.macroscope.example"))

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://api.macroscope.example:8000", true},
		{"http://localhost:3000", true},
		{"https://app.macroscope.example", true},
		{"https://evil.example", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://api.macroscope.example:8000/api/realtime", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		require.Equal(t, tc.want, hub.checkOrigin(req), tc.origin)
	}
}
