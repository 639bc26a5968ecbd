package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/janken/internal/present"
)

const writeWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type resultMessage struct {
	present.Update
	Text string `json:"text"`
}

// ResultsHub broadcasts presented updates to WebSocket clients. It is a
// present.Presenter and synchronizes internally, so it can be delivered to
// from any goroutine.
type ResultsHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	last    []byte
	closed  bool
}

// NewResultsHub creates an empty hub.
func NewResultsHub() *ResultsHub {
	return &ResultsHub{clients: make(map[*websocket.Conn]*sync.Mutex)}
}

// Present sends u to every connected client.
func (h *ResultsHub) Present(u present.Update) {
	msg, err := json.Marshal(resultMessage{Update: u, Text: u.Text()})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.last = msg
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, m := range h.clients {
		conns[c] = m
	}
	h.mu.Unlock()

	for conn, wmu := range conns {
		if err := send(conn, wmu, msg); err != nil {
			h.remove(conn)
		}
	}
}

// Clients returns the number of connected clients.
func (h *ResultsHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles WebSocket upgrade requests. A new client receives the
// latest update immediately.
func (h *ResultsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	wmu := &sync.Mutex{}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = wmu
	last := h.last
	h.mu.Unlock()
	defer h.remove(conn)

	if last != nil {
		if err := send(conn, wmu, last); err != nil {
			return
		}
	}

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *ResultsHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *ResultsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

func send(conn *websocket.Conn, wmu *sync.Mutex, msg []byte) error {
	wmu.Lock()
	defer wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
