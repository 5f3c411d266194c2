// Package events carries session lifecycle notifications to external
// collaborators. Emission is best-effort: a full buffer or a failing
// consumer never blocks or rolls back the state mutation that produced
// the event.
package events

import (
	"time"

	"github.com/faultmaven/session-service/internal/model"
)

// EventName identifies a lifecycle transition announced to collaborators.
type EventName string

const (
	EventSessionCreated EventName = "session.created"
	EventSessionUpdated EventName = "session.updated"
	EventSessionExpired EventName = "session.expired"
	EventSessionDeleted EventName = "session.deleted"
)

// Event is the outbound record for a single transition.
type Event struct {
	Name       EventName    `json:"event_name"`
	SessionID  string       `json:"session_id"`
	UserID     string       `json:"user_id"`
	OccurredAt time.Time    `json:"occurred_at"`
	Status     model.Status `json:"status"`
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(evt Event)
}

// Bus is a lightweight in-process pub-sub implementation backed by a
// buffered channel.
type Bus struct {
	ch chan Event
}

var _ Notifier = (*Bus)(nil)

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Notify enqueues the event without blocking. Events are dropped when the
// buffer is full.
func (b *Bus) Notify(evt Event) {
	select {
	case b.ch <- evt:
	default:
	}
}

// Subscribe returns a read-only channel for consumers.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
