package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"techclinic/internal/models"
)

func dial(t *testing.T, hub *Hub, sessionID string) *ws.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r, sessionID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Count() == n }, 2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, conn *ws.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestBroadcastChange(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	a := dial(t, hub, "s1")
	b := dial(t, hub, "s2")
	waitForClients(t, hub, 2)

	hub.BroadcastChange("repair_job", "create", "101")

	for _, conn := range []*ws.Conn{a, b} {
		evt := readEvent(t, conn)
		assert.Equal(t, "repair_job_created", evt.Type)
		assert.Equal(t, "101", evt.ID)
		assert.Equal(t, "create", evt.Action)
	}
}

func TestNotifyTargetsSession(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	mine := dial(t, hub, "s1")
	other := dial(t, hub, "s2")
	waitForClients(t, hub, 2)

	hub.For("s1").Notify(models.Notice{Level: models.LevelWarning, Message: "Only 20 available in this box"})
	hub.BroadcastChange("part", "assign", "P001")

	evt := readEvent(t, mine)
	require.Equal(t, EventNotice, evt.Type)
	require.NotNil(t, evt.Notice)
	assert.Equal(t, "Only 20 available in this box", evt.Notice.Message)

	// The other session sees only the broadcast.
	evt = readEvent(t, other)
	assert.Equal(t, "part_assigned", evt.Type)
}

func TestDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, hub, "s1")
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
	hub.Broadcast(Event{Type: "noop"})
}

func TestRejectsCrossOrigin(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r, "s1")
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := ws.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.Count())

	conn, _, err := ws.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	conn.Close()
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		origin string
		ok     bool
	}{
		{"", true},
		{"https://desk.example:8080", true},
		{"https://DESK.example:8080", true},
		{"https://desk.example", false},
		{"https://other.example:8080", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = "desk.example:8080"
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := SameOrigin(r); got != tt.ok {
			t.Errorf("SameOrigin(%q) = %v, want %v", tt.origin, got, tt.ok)
		}
	}
}
