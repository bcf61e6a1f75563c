package actor

import (
	"sync/atomic"
	"time"

	"github.com/go-i2p/packettunnel/lib/metrics"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

// EventType categorizes tunnel events.
type EventType int

const (
	// EventStarted is emitted when Start enters Connecting.
	EventStarted EventType = iota
	// EventStateChanged is emitted after every transition.
	EventStateChanged
	// EventReconnectRejected is emitted when a reconnect has no valid target.
	EventReconnectRejected
	// EventBlocked is emitted when the tunnel enters the error state.
	EventBlocked
	// EventRestartScheduled is emitted when an automatic restart is armed.
	EventRestartScheduled
	// EventKeyRotationStarted is emitted when traffic moves to the prior key.
	EventKeyRotationStarted
	// EventKeyRotationConfirmed is emitted when the new key is confirmed.
	EventKeyRotationConfirmed
	// EventKeyRotationTimedOut is emitted when a rotation was never confirmed.
	EventKeyRotationTimedOut
	// EventError is emitted when a recoverable error occurs.
	EventError
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventStateChanged:
		return "state_changed"
	case EventReconnectRejected:
		return "reconnect_rejected"
	case EventBlocked:
		return "blocked"
	case EventRestartScheduled:
		return "restart_scheduled"
	case EventKeyRotationStarted:
		return "key_rotation_started"
	case EventKeyRotationConfirmed:
		return "key_rotation_confirmed"
	case EventKeyRotationTimedOut:
		return "key_rotation_timed_out"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event represents a tunnel lifecycle event.
type Event struct {
	// Type is the category of this event.
	Type EventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// State is the tunnel state after the event.
	State tunnelstate.State

	// Previous is the state before a transition. Nil for events that did
	// not change the state.
	Previous tunnelstate.State

	// Error contains the error for EventError and EventReconnectRejected.
	Error error

	// Message is a human-readable description of the event.
	Message string

	// Data contains event-specific additional data.
	// For EventRestartScheduled: time.Duration until the restart
	// For EventKeyRotation*: tunnelstate.RotationHandle
	// For EventBlocked: tunnelstate.BlockedStateReason
	Data any
}

// eventEmitter manages the event channel. All methods are called with the
// actor lock held.
type eventEmitter struct {
	events       chan Event
	closed       bool
	droppedCount atomic.Uint64
}

func newEventEmitter(bufferSize int) *eventEmitter {
	if bufferSize < 1 {
		bufferSize = 100
	}
	return &eventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// emit sends an event to the channel. If the channel is full the event is
// dropped and counted.
func (e *eventEmitter) emit(event Event) {
	if e.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.events <- event:
	default:
		e.droppedCount.Add(1)
		metrics.EventsDropped.Inc()
	}
}

func (e *eventEmitter) channel() <-chan Event {
	return e.events
}

func (e *eventEmitter) droppedEvents() uint64 {
	return e.droppedCount.Load()
}

func (e *eventEmitter) close() {
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
