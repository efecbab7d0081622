// Package notify fans coarse session status events out to connected clients
// over websockets. This is a best-effort presence channel: events for users
// with no connected client are dropped, never queued.
package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/applyflow/applyflow/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// associateMessage is the message a client sends after connecting to register
// interest in one user's events.
type associateMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type client struct {
	conn   *websocket.Conn
	mu     sync.Mutex // serializes writes
	userID string
}

func (c *client) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is a flat registry of live connections with a capacity cap. Slots are
// reserved before the websocket handshake so concurrent connects cannot
// overshoot the cap while an upgrade is in flight.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	reserved int
	maxConns int
}

// NewHub creates a hub rejecting connections beyond maxConns.
func NewHub(maxConns int) *Hub {
	return &Hub{
		clients:  make(map[*client]struct{}),
		maxConns: maxConns,
	}
}

// HandleWS upgrades the request and serves the connection until it closes.
// New connections are rejected with 503 once the ceiling is reached.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !h.reserve() {
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.unreserve()
		log.Printf("websocket upgrade: %v", err)
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.reserved--
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.remove(c)
		conn.Close()
	}()

	// Read loop: the only inbound message we understand is the association.
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg associateMessage
		if json.Unmarshal(payload, &msg) != nil {
			continue
		}
		if msg.Type == "associate" && msg.UserID != "" {
			h.mu.Lock()
			c.userID = msg.UserID
			h.mu.Unlock()
		}
	}
}

// reserve claims a connection slot ahead of the handshake. The claim counts
// against the cap until the connection registers or the upgrade fails.
func (h *Hub) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients)+h.reserved >= h.maxConns {
		return false
	}
	h.reserved++
	return true
}

func (h *Hub) unreserve() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reserved--
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// BroadcastToUser delivers the event to every open connection associated with
// the user and returns how many received it. Zero listeners is not an error.
func (h *Hub) BroadcastToUser(userID string, event models.Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("marshal event: %v", err)
		return 0
	}

	sent := 0
	for _, c := range h.clientsFor(userID) {
		if err := c.send(payload); err != nil {
			h.drop(c)
			continue
		}
		sent++
	}
	return sent
}

// BroadcastAll delivers the event to every open connection.
func (h *Hub) BroadcastAll(event models.Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("marshal event: %v", err)
		return 0
	}

	sent := 0
	for _, c := range h.snapshot() {
		if err := c.send(payload); err != nil {
			h.drop(c)
			continue
		}
		sent++
	}
	return sent
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) clientsFor(userID string) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*client
	for c := range h.clients {
		if c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) drop(c *client) {
	h.remove(c)
	c.conn.Close()
}
