// Package alerting publishes integrity events to the messaging
// collaborator. Publication is fire-and-forget: delivery failures are
// logged and counted, never propagated into the detection path.
package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event types published by the monitoring and detection pipelines.
const (
	EventDrift     = "model_drift"
	EventTamper    = "model_tamper"
	EventPoisoning = "data_poisoning"
	EventAdversary = "adversarial_input"
	EventTheft     = "model_extraction"
)

// Event is the wire contract with the alerting collaborator.
type Event struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	ModelID   string         `json:"model_id"`
	Severity  string         `json:"severity"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(eventType, modelID, severity string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		ModelID:   modelID,
		Severity:  severity,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Notifier delivers events to a single channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured log. Used as the default
// channel and alongside the bus in development.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event Event) error {
	log.Warn().
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("model_id", event.ModelID).
		Str("severity", event.Severity).
		Msg("integrity alert")
	return nil
}

// CooldownNotifier suppresses repeat events of the same type for the same
// model within a cooldown period, so a drifting model does not flood the
// bus every poll.
type CooldownNotifier struct {
	next     Notifier
	cooldown time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownNotifier wraps next with per-model/event-type suppression.
func NewCooldownNotifier(next Notifier, cooldown time.Duration) *CooldownNotifier {
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	return &CooldownNotifier{
		next:     next,
		cooldown: cooldown,
		last:     make(map[string]time.Time),
	}
}

// Notify forwards the event unless an identical model/type pair fired
// within the cooldown window.
func (c *CooldownNotifier) Notify(ctx context.Context, event Event) error {
	key := event.ModelID + ":" + event.EventType

	c.mu.Lock()
	last, seen := c.last[key]
	if seen && time.Since(last) < c.cooldown {
		c.mu.Unlock()
		log.Debug().
			Str("model_id", event.ModelID).
			Str("event_type", event.EventType).
			Msg("alert suppressed by cooldown")
		return nil
	}
	c.last[key] = time.Now()
	c.mu.Unlock()

	return c.next.Notify(ctx, event)
}

// Fanout delivers each event to every notifier, logging individual
// failures without short-circuiting the rest.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, event Event) error {
	for _, n := range f {
		if err := n.Notify(ctx, event); err != nil {
			log.Error().Err(err).
				Str("event_id", event.ID).
				Msg("alert channel delivery failed")
		}
	}
	return nil
}
