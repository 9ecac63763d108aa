package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch p := event.Payload.(type) {
		case interfaces.RecordEvent:
			logEvent = logEvent.Str("run_id", p.RunID).Str("attempt_id", p.AttemptID).
				Int("row", p.Row).Str("document", p.DocumentNumber)
			if p.Status != "" {
				logEvent = logEvent.Str("status", p.Status)
			}
		case interfaces.RunEvent:
			logEvent = logEvent.Str("run_id", p.RunID).Str("attempt_id", p.AttemptID).
				Int("attempt", p.Attempt).Int("restarts", p.Restarts)
			if p.Error != "" {
				logEvent = logEvent.Str("error", p.Error)
			}
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range interfaces.AllEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	return nil
}
