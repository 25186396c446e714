package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avdwerff/deskchat/internal/protocol"
)

const writeTimeout = 10 * time.Second

// wsClient wraps a socket with its write lock. gorilla allows one
// concurrent writer per connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(env)
}

// Hub is the realtime connection registry: per-user sockets plus the pool
// of operator consoles. Every mutation triggers a presence broadcast.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	users  map[string]map[*wsClient]struct{}
	admins map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		users:  make(map[string]map[*wsClient]struct{}),
		admins: make(map[*wsClient]struct{}),
	}
}

// AddUser registers a user socket and broadcasts the new presence roster.
func (h *Hub) AddUser(userID string, c *wsClient) {
	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*wsClient]struct{})
	}
	h.users[userID][c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("ws: user connected", "user", userID)
	h.BroadcastPresence()
}

// AddAdmin registers an operator socket.
func (h *Hub) AddAdmin(c *wsClient) {
	h.mu.Lock()
	h.admins[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("ws: operator connected")
	h.BroadcastPresence()
}

// Remove drops a socket from whichever registry holds it.
func (h *Hub) Remove(c *wsClient) {
	h.mu.Lock()
	for userID, conns := range h.users {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.users, userID)
			}
		}
	}
	delete(h.admins, c)
	h.mu.Unlock()
	h.BroadcastPresence()
}

// ToUser sends an event to every socket of one user.
func (h *Hub) ToUser(userID, eventType string, payload any) {
	env, err := protocol.Encode(eventType, payload)
	if err != nil {
		h.logger.Error("encode event", "event", eventType, "error", err)
		return
	}
	for _, c := range h.userClients(userID) {
		if err := c.send(env); err != nil {
			h.logger.Warn("ws: user send failed", "user", userID, "error", err)
		}
	}
}

// ToAdmins sends an event to every operator console.
func (h *Hub) ToAdmins(eventType string, payload any) {
	env, err := protocol.Encode(eventType, payload)
	if err != nil {
		h.logger.Error("encode event", "event", eventType, "error", err)
		return
	}
	for _, c := range h.adminClients() {
		if err := c.send(env); err != nil {
			h.logger.Warn("ws: operator send failed", "error", err)
		}
	}
}

// BroadcastPresence pushes the online roster to every connection.
func (h *Hub) BroadcastPresence() {
	h.mu.Lock()
	online := make([]string, 0, len(h.users))
	for userID := range h.users {
		online = append(online, userID)
	}
	anyAdmins := len(h.admins) > 0
	h.mu.Unlock()

	payload := protocol.PresenceUpdate{OnlineUsers: online, OnlineAdmins: anyAdmins}
	h.ToAdmins(protocol.EventPresenceUpdate, payload)
	for _, userID := range online {
		h.ToUser(userID, protocol.EventPresenceUpdate, payload)
	}
}

// OnlineUsers returns the ids of currently connected users.
func (h *Hub) OnlineUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	online := make([]string, 0, len(h.users))
	for userID := range h.users {
		online = append(online, userID)
	}
	return online
}

func (h *Hub) userClients(userID string) []*wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*wsClient, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) adminClients() []*wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*wsClient, 0, len(h.admins))
	for c := range h.admins {
		out = append(out, c)
	}
	return out
}
