// Package hub fans out operational events to monitoring dashboards over
// WebSocket. The guide server publishes session and pipeline events; any
// number of dashboard connections receive them.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event kinds published by the guide server.
const (
	EventSessionCreated = "session_created"
	EventSessionRemoved = "session_removed"
	EventTurnCompleted  = "turn_completed"
	EventDetection      = "detection"
)

// Event is one operational notification.
type Event struct {
	Kind     string `json:"kind"`
	ClientID string `json:"client_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
	At       int64  `json:"at"` // unix millis
}

// NewEvent stamps an event with the current time.
func NewEvent(kind, clientID, detail string) Event {
	return Event{
		Kind:     kind,
		ClientID: clientID,
		Detail:   detail,
		At:       time.Now().UnixMilli(),
	}
}

// Hub maintains the set of connected dashboards and broadcasts events.
type Hub struct {
	logger *slog.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// New creates a hub. Call Run in a goroutine before publishing.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger.With("component", "hub"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It owns the clients map.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("monitor connected", "monitors", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("monitor disconnected", "monitors", count)

		case payload := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Slow consumer: drop it rather than stall the hub.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow monitor")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects all monitors.
func (h *Hub) Stop() {
	close(h.done)
}

// Publish broadcasts one event to all monitors. Events are dropped,
// never blocked on, when the hub is saturated.
func (h *Hub) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "kind", ev.Kind, "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("event dropped, broadcast queue full", "kind", ev.Kind)
	}
}

// MonitorCount returns the number of connected dashboards.
func (h *Hub) MonitorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
