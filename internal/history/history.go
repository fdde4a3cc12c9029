package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventExecute EventType = "execute"
	EventExit    EventType = "exit"
	EventKill    EventType = "kill"
)

// Event is one entry of the execution history.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Name       string        `json:"name"`
	PID        int           `json:"pid"`
	Command    string        `json:"command,omitempty"`
	ExitErr    string        `json:"exit_error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }

// Nullable returns nil for an empty string so SQL sinks store NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
