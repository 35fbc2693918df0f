package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"techclinic/internal/models"
)

// Event is the payload pushed to WebSocket clients. Change events carry
// Type/ID/Action; notices carry Notice.
type Event struct {
	Type   string         `json:"type"`
	ID     any            `json:"id,omitempty"`
	Action string         `json:"action,omitempty"`
	Notice *models.Notice `json:"notice,omitempty"`
}

// EventNotice is the Type of a notice event.
const EventNotice = "notice"

// client wraps a WebSocket connection with a mutex for thread-safe writes.
type client struct {
	conn    *ws.Conn
	session string
	mu      sync.Mutex
}

// Hub maintains connected WebSocket clients, each bound to the session
// that opened it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

func (h *Hub) register(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok && c.conn != nil {
		_ = c.conn.Close()
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(evt Event) {
	h.send(evt, func(*client) bool { return true })
}

// BroadcastChange announces a resource change, e.g. ("repair_job",
// "create", "101") is sent as type "repair_job_created".
func (h *Hub) BroadcastChange(resourceType, action string, id any) {
	suffix := "ed"
	if strings.HasSuffix(action, "e") {
		suffix = "d"
	}
	h.Broadcast(Event{
		Type:   resourceType + "_" + action + suffix,
		ID:     id,
		Action: action,
	})
}

// Notify sends a notice to the clients of one session.
func (h *Hub) Notify(sessionID string, n models.Notice) {
	h.send(Event{Type: EventNotice, Notice: &n}, func(c *client) bool { return c.session == sessionID })
}

// SessionNotifier delivers notices to one session's clients.
type SessionNotifier struct {
	hub     *Hub
	session string
}

// For returns the notifier for sessionID.
func (h *Hub) For(sessionID string) SessionNotifier {
	return SessionNotifier{hub: h, session: sessionID}
}

func (n SessionNotifier) Notify(notice models.Notice) { n.hub.Notify(n.session, notice) }

func (h *Hub) send(evt Event, match func(*client) bool) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("ws: marshal event", zap.Error(err))
		return
	}
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if match(c) {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		writeErr := func() (writeErr error) {
			defer func() {
				if r := recover(); r != nil {
					writeErr = fmt.Errorf("ws: write panic: %v", r)
				}
			}()
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			return c.conn.WriteMessage(ws.TextMessage, data)
		}()
		c.mu.Unlock()

		if writeErr != nil {
			h.logger.Debug("ws: dropping client", zap.String("session", c.session), zap.Error(writeErr))
			h.unregister(c)
		}
	}
}

// Upgrader is the default WebSocket upgrader. The session cookie rides
// along with any cross-site handshake, so browsers must come from the
// dashboard's own origin.
var Upgrader = ws.Upgrader{
	CheckOrigin: SameOrigin,
}

// SameOrigin accepts requests without an Origin header (non-browser
// clients) and those whose Origin host matches the request Host.
func SameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// HandleWebSocket upgrades the connection for sessionID and keeps it alive
// with pings until the client goes away.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("ws: upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, session: sessionID}
	total := hub.register(c)
	hub.logger.Info("ws: client connected", zap.String("session", sessionID), zap.Int("total", total))

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(ws.PingMessage, nil, time.Now().Add(5*time.Second))
				c.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	hub.unregister(c)
	hub.logger.Info("ws: client disconnected", zap.String("session", sessionID))
}
