package core

import (
	"context"
	"sync"
)

// EventSink receives domain events after their command has committed.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventLog is an in-memory EventSink that keeps events in emission order.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog { return &EventLog{} }

// Emit appends event to the log.
func (l *EventLog) Emit(_ context.Context, event Event) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
