// Package realtime broadcasts ticket-lifecycle and health-change events to
// subscribers of the admin/streaming surface (SPEC_FULL.md §3.4), as an
// additive alternative to polling C9's status() call.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers.
type Event struct {
	// Type is the event type (ticket_state_changed, health_changed, etc.)
	Type string `json:"type"`

	// ID is a unique event ID (UUID)
	ID string `json:"id"`

	// Data is the event payload (varies by event type)
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Source is the event source (ticket_scheduler, health_monitor, etc.)
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing)
	Sequence int64 `json:"sequence"`
}

// EventType constants for the streaming surface.
const (
	EventTypeTicketStateChanged = "ticket_state_changed"
	EventTypeHealthChanged      = "health_changed"
	EventTypeSystemNotification = "system_notification"
)

// EventSource constants.
const (
	EventSourceTicketScheduler = "ticket_scheduler"
	EventSourceHealthMonitor   = "health_monitor"
	EventSourceSystem          = "system"
)

// NewEvent creates a new Event with the given type, data, and source.
func NewEvent(eventType string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // Will be set by EventBus
	}
}

// generateEventID generates a unique event ID (UUID).
func generateEventID() string {
	return uuid.New().String()
}
