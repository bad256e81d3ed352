package history

import (
	"context"
	"time"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	EventStart EventType = "start" // child spawned, contingency in effect
	EventKill  EventType = "kill"  // contingency executed
)

// Record describes one supervised run.
type Record struct {
	Command    string    `json:"command"`
	PID        int       `json:"pid"`
	Source     string    `json:"source"`
	MaxAge     float64   `json:"max_age_seconds"`
	StartedAt  time.Time `json:"started_at"`
	Reason     string    `json:"reason,omitempty"`
	AgeSeconds float64   `json:"age_seconds,omitempty"`
	Polls      int       `json:"polls,omitempty"`
}

// Event represents a supervision event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Close closes s if it holds resources.
func Close(s Sink) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
