// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventSnapshotChanged EventType = "snapshot.changed"
	EventCommandExecuted EventType = "command.executed"
	EventCommandFailed   EventType = "command.failed"
)

// MatrixEvent is published on the event bus and streamed to websocket clients
type MatrixEvent struct {
	ID        uuid.UUID `json:"id"`
	EventType EventType `json:"event_type"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Command   string    `json:"command,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSnapshotEvent wraps a snapshot change
func NewSnapshotEvent(s Snapshot) MatrixEvent {
	return MatrixEvent{
		ID:        uuid.New(),
		EventType: EventSnapshotChanged,
		Snapshot:  &s,
		Timestamp: time.Now(),
	}
}

// NewCommandEvent records the outcome of an actuation
func NewCommandEvent(command string, err error) MatrixEvent {
	e := MatrixEvent{
		ID:        uuid.New(),
		EventType: EventCommandExecuted,
		Command:   command,
		Timestamp: time.Now(),
	}
	if err != nil {
		e.EventType = EventCommandFailed
		e.Error = err.Error()
	}
	return e
}
