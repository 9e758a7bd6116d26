package server

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

type client struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	topic string
}

func newClient(id string, conn *websocket.Conn) *client {
	c := &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) closeWith(code int, reason string) {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeTimeout))
}

// Hub tracks one socket per client id. A reconnect under the same id replaces
// the previous socket.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		log:     logger.With().Str("component", "hub").Logger(),
		clients: make(map[string]*client),
	}
}

// Add registers conn under id and returns its client.
func (h *Hub) Add(id string, conn *websocket.Conn) *client {
	c := newClient(id, conn)

	h.mu.Lock()
	old := h.clients[id]
	h.clients[id] = c
	h.mu.Unlock()

	if old != nil {
		h.log.Info().Str("client_id", id).Msg("socket replaced by newer connection")
		old.closeWith(websocket.CloseNormalClosure, "replaced")
		close(old.send)
	}
	return c
}

// Remove drops c if it is still the registered socket for its id. Senders
// check membership under the lock, so send is closed only after c left the map.
func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	current := h.clients[c.id] == c
	if current {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	if current {
		close(c.send)
	}
}

// Subscribe points c at workflowID; later Publish calls for it reach c.
func (h *Hub) Subscribe(c *client, workflowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.topic = workflowID
}

// SendTo queues data for c. A client that cannot keep up is disconnected.
func (h *Hub) SendTo(c *client, data []byte) bool {
	h.mu.RLock()
	if h.clients[c.id] != c {
		h.mu.RUnlock()
		return false
	}
	select {
	case c.send <- data:
		h.mu.RUnlock()
		return true
	default:
	}
	h.mu.RUnlock()

	h.log.Warn().Str("client_id", c.id).Msg("client too slow, disconnecting")
	h.Remove(c)
	return false
}

// SendJSON marshals v and queues it for c.
func (h *Hub) SendJSON(c *client, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal frame")
		return false
	}
	return h.SendTo(c, data)
}

// Publish delivers a workflow frame to every client subscribed to it.
func (h *Hub) Publish(workflowID string, frame protocol.WorkflowUpdateFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal workflow frame")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.topic == workflowID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.SendTo(c, data)
	}
}

// IDs returns the connected client ids, sorted.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll sends code to every client and drops them.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(code, reason)
		close(c.send)
	}
}
