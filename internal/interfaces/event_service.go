package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventRecordStarted is published when a pending row enters Querying.
	// Payload: RecordEvent
	EventRecordStarted EventType = "record_started"

	// EventRecordPersisted is published after a row's status is written.
	// Payload: RecordEvent
	EventRecordPersisted EventType = "record_persisted"

	// EventRunFailed is published when a supervised attempt fails.
	// Payload: RunEvent
	EventRunFailed EventType = "run_failed"

	// EventRunCompleted is published when an attempt processes every row.
	// Payload: RunEvent
	EventRunCompleted EventType = "run_completed"
)

// AllEventTypes lists every event type, for subscribers that want everything
var AllEventTypes = []EventType{
	EventRecordStarted,
	EventRecordPersisted,
	EventRunFailed,
	EventRunCompleted,
}

// Event represents a system event
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// RecordEvent describes progress on one dataset row
type RecordEvent struct {
	RunID          string `json:"run_id"`
	AttemptID      string `json:"attempt_id"`
	Row            int    `json:"row"`
	Identifier     string `json:"identifier"`
	DocumentNumber string `json:"document_number"`
	Status         string `json:"status,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Artifact       string `json:"artifact,omitempty"`
}

// RunEvent describes the end of a supervised attempt
type RunEvent struct {
	RunID     string `json:"run_id"`
	AttemptID string `json:"attempt_id"`
	Attempt   int    `json:"attempt"`
	Restarts  int    `json:"restarts"`
	Error     string `json:"error,omitempty"`
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
