package adminapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Hub fans out live-tail broadcasts to websocket clients subscribed to a
// given MO path, ported from the teacher's internal/api/websocket.go Hub
// (register/unregister/broadcast channel loop), generalized from one
// global topic to one topic per path since spec.md's "GET /ws/{path}"
// tails one MO at a time.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*client]struct{})}
}

// Broadcast sends payload to every client subscribed to path. Dropping a
// slow client rather than blocking the caller, same as the teacher's hub.
func (h *Hub) Broadcast(path string, payload []byte) {
	h.mu.Lock()
	clients := h.topics[path]
	h.mu.Unlock()
	for c := range clients {
		select {
		case c.send <- payload:
		default:
			h.unregister(path, c)
		}
	}
}

func (h *Hub) register(path string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[path] == nil {
		h.topics[path] = make(map[*client]struct{})
	}
	h.topics[path][c] = struct{}{}
}

func (h *Hub) unregister(path string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[path][c]; ok {
		delete(h.topics[path], c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, path string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("adminapi: websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 256)}
	h.register(path, c)

	go func() {
		defer func() {
			h.unregister(path, c)
			conn.Close()
		}()
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Drain and discard client reads; the tail is one-directional but a
	// connection that never reads never notices a close from its peer.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister(path, c)
				return
			}
		}
	}()
}
