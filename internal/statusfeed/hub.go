// Package statusfeed exposes the orchestrator's state over HTTP and a
// WebSocket stream.
package statusfeed

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types carried in Envelope.Type.
const (
	EventState     = "sync.state"
	EventCompleted = "sync.completed"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Envelope wraps every message sent to WebSocket clients.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type client struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to connected clients. A client whose
// buffer is full is dropped rather than allowed to stall the others.
//
// Thread-safety: all methods are safe for concurrent use.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[uint64]*client
	nextID  uint64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, now: time.Now, clients: make(map[uint64]*client)}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends one envelope to every client.
func (h *Hub) Broadcast(eventType string, data any) {
	msg, err := h.encode(eventType, data)
	if err != nil {
		h.logger.Error("statusfeed: encode broadcast", "type", eventType, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("statusfeed: dropping slow client", "client", id)
			delete(h.clients, id)
			close(c.send)
		}
	}
}

func (h *Hub) encode(eventType string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Type: eventType, Data: data, Timestamp: h.now().UnixMilli()})
}

// attach registers conn, queues greeting as its first message and starts
// its pumps.
func (h *Hub) attach(conn *websocket.Conn, greeting []byte) {
	h.mu.Lock()
	h.nextID++
	c := &client{id: h.nextID, conn: conn, send: make(chan []byte, sendBuffer)}
	if greeting != nil {
		c.send <- greeting
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("statusfeed: client connected", "client", c.id, "clients", n)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
		h.logger.Debug("statusfeed: client disconnected", "client", c.id, "clients", len(h.clients))
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// readPump discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("statusfeed: read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
