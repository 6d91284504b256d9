// Package mirror broadcasts terminal output to read-only websocket viewers.
package mirror

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const sendBuffer = 64

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub fans device output out to every connected viewer. It is an io.Writer
// that never blocks: a viewer that cannot keep up is disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	logger  *log.Logger
	closed  bool
}

// NewHub returns an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{clients: make(map[*client]bool), logger: logger}
}

// Write broadcasts a copy of p as one text frame.
func (h *Hub) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	msg := append([]byte(nil), p...)

	// Sends happen under the read lock so remove and Close cannot close a
	// channel in the middle of one.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("mirror viewer too slow, disconnecting", "remote", c.remote)
		h.remove(c)
	}
	return len(p), nil
}

func (h *Hub) add(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := newClient(conn)
	h.clients[c] = true
	return c, true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
