package realtime

import (
	"log/slog"
	"time"

	"github.com/cdeskio/activity-gateway/internal/core"
)

// EventPublisher publishes events onto the EventBus from the ticket
// scheduler and health monitor.
type EventPublisher struct {
	eventBus *DefaultEventBus
	logger   *slog.Logger
	metrics  *RealtimeMetrics
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(eventBus *DefaultEventBus, logger *slog.Logger, metrics *RealtimeMetrics) *EventPublisher {
	return &EventPublisher{
		eventBus: eventBus,
		logger:   logger.With("component", "event_publisher"),
		metrics:  metrics,
	}
}

// PublishTicketStateChanged announces a ticket's lifecycle transition.
// Subscribers use this as an additive alternative to polling status();
// polling remains the canonical path and this call never blocks it.
func (p *EventPublisher) PublishTicketStateChanged(t *core.Ticket) error {
	if p.eventBus == nil {
		return nil
	}

	data := map[string]interface{}{
		"ticket_id":     t.ID,
		"state":         string(t.State),
		"template_name": t.TemplateName,
	}
	if t.CompletedAt != nil {
		data["completed_at"] = t.CompletedAt.Format(time.RFC3339)
	}
	if t.State == core.TicketFailed && t.Err != "" {
		data["error"] = t.Err
	}
	if t.State == core.TicketCompleted {
		data["truncated"] = t.Truncated
		data["returned_rows"] = t.RetRows
	}

	event := NewEvent(EventTypeTicketStateChanged, data, EventSourceTicketScheduler)
	return p.eventBus.Publish(*event)
}

// PublishHealthEvent announces a component's health status changing.
func (p *EventPublisher) PublishHealthEvent(component string, status string, latencyMS float64, message string) error {
	if p.eventBus == nil {
		return nil
	}

	data := map[string]interface{}{
		"component":  component,
		"status":     status,
		"latency_ms": latencyMS,
	}
	if message != "" {
		data["message"] = message
	}

	event := NewEvent(EventTypeHealthChanged, data, EventSourceHealthMonitor)
	return p.eventBus.Publish(*event)
}

// PublishSystemNotification publishes an operator-facing notification
// (e.g. an account entering cooldown, a rotation completing).
func (p *EventPublisher) PublishSystemNotification(level string, message string) error {
	if p.eventBus == nil {
		return nil
	}

	data := map[string]interface{}{
		"level":   level,
		"message": message,
	}

	event := NewEvent(EventTypeSystemNotification, data, EventSourceSystem)
	return p.eventBus.Publish(*event)
}
