package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventJobStatusChanged EventType = "job_status_changed"
	EventJobStep          EventType = "job_step"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the in-process pub/sub event bus
type EventService interface {
	// Subscribe registers handler and returns a function that removes it
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())

	// Publish delivers the event to every subscriber asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync delivers the event in subscription order and waits for all handlers
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
