package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Event types broadcast while a plan executes.
const (
	StepStarted   = "step_started"
	StepCompleted = "step_completed"
	StepSkipped   = "step_skipped"
	StepFailed    = "step_failed"
	PhaseStarted  = "phase_started"
	PhaseFinished = "phase_finished"
)

// EventBroker manages SSE connections and broadcasts events
type EventBroker struct {
	clients map[chan string]bool
	mu      sync.RWMutex
}

// Global event broker instance
var broker = NewBroker()

// NewBroker creates an isolated broker.
func NewBroker() *EventBroker {
	return &EventBroker{clients: make(map[chan string]bool)}
}

// GetBroker returns the global event broker
func GetBroker() *EventBroker {
	return broker
}

// Register adds a new SSE client
func (b *EventBroker) Register(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	slog.Debug("📡 SSE client connected", "total", len(b.clients))
}

// Unregister removes an SSE client
func (b *EventBroker) Unregister(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, client)
	close(client)
	slog.Debug("📡 SSE client disconnected", "total", len(b.clients))
}

// Clients returns the number of connected clients.
func (b *EventBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to all connected clients. Slow clients miss
// events rather than blocking the sender.
func (b *EventBroker) Broadcast(eventType string, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to marshal event data", "event", eventType, "error", err)
		return
	}

	message := fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData))

	for client := range b.clients {
		select {
		case client <- message:
		default:
		}
	}
}
