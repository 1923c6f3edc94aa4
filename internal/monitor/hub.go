// Package monitor streams call-session lifecycle updates to connected
// operator dashboards over WebSocket.
package monitor

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"voicegate/internal/session"
)

// sessionUpdate is the wire envelope for a session snapshot
type sessionUpdate struct {
	Type string `json:"type"` // "session_update"
	session.Snapshot
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages to fan out
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the hub's main loop until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("monitor client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("monitor client disconnected")

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// PublishSession broadcasts a session snapshot to every connected client.
// Publishing never blocks the caller: the hub's buffer absorbs bursts and
// slow clients are dropped in fanOut.
func (h *Hub) PublishSession(snap session.Snapshot) {
	data, err := json.Marshal(sessionUpdate{Type: "session_update", Snapshot: snap})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal session update")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Msg("monitor broadcast buffer full, dropping update")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// fanOut sends a message to all clients, dropping any whose send buffer
// is full
func (h *Hub) fanOut(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("monitor client send buffer full, closing connection")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
