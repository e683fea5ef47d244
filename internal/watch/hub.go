// Package watch serves a live view of a run: every merged line is pushed to
// connected websocket clients as it is released. Clients joining late only see
// lines released after they connected.
package watch

import (
	"log/slog"
	"sync"
	"time"

	"t3/pkg/envelope"
)

// Event types.
const (
	EventLine = "line"
	EventExit = "exit"
)

// Event is one JSON message sent to clients.
type Event struct {
	Type      string    `json:"type"`
	Stream    string    `json:"stream,omitempty"`
	Timestamp time.Time `json:"ts,omitzero"`
	Text      string    `json:"text,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

// Client represents a single websocket connection.
type Client struct {
	ID     string
	Events chan Event
	Done   chan struct{}
}

// Hub tracks connected clients and broadcasts events to them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	finished chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		clients:  make(map[string]*Client),
		finished: make(chan struct{}),
		logger:   logger,
	}
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	h.logger.Debug("Watch client registered", "clientID", client.ID)
}

// UnregisterClient removes a client from the hub. The client's Done channel
// is closed by the handler that created the client.
func (h *Hub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		h.logger.Debug("Watch client unregistered", "clientID", clientID)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to every client without blocking. A client whose
// buffer is full misses the event.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Events <- event:
		case <-client.Done:
			// disconnected
		default:
			h.logger.Warn("Watch client channel full, dropping event", "clientID", client.ID)
		}
	}
}

// Emit makes the hub a merge sink. It never fails: a slow viewer must not
// stall the run.
func (h *Hub) Emit(stream envelope.Stream, m envelope.Message) error {
	h.Broadcast(Event{
		Type:      EventLine,
		Stream:    stream.String(),
		Timestamp: m.Timestamp,
		Text:      m.Text,
	})
	return nil
}

// Finish announces the exit code of the command and tells handlers to wind
// down once their queue is sent.
func (h *Hub) Finish(exitCode int) {
	h.once.Do(func() {
		h.Broadcast(Event{Type: EventExit, ExitCode: &exitCode})
		close(h.finished)
	})
}

// Finished is closed by Finish.
func (h *Hub) Finished() <-chan struct{} {
	return h.finished
}
