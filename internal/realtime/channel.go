// Package realtime is the inbound push half of the sync layer: a
// polymorphic "subscribe to a named channel, receive typed events"
// abstraction with a Redis pub/sub variant for the wire and an
// in-memory variant for tests and offline use.
package realtime

import (
	"errors"

	"taskdeck/internal/domain"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("realtime: channel closed")

// Event kinds carried on the task broadcast channel. Every payload
// contains a full task record.
const (
	TaskCreatedEvent = "TaskCreatedEvent"
	TaskUpdatedEvent = "TaskUpdatedEvent"
	TaskDeletedEvent = "TaskDeletedEvent"
)

// DefaultChannel is the broadcast channel the task API publishes on.
const DefaultChannel = "tasks-channel"

// Event is a typed push notification delivered outside the
// request/response cycle.
type Event struct {
	Kind string      `json:"event"`
	Task domain.Task `json:"task"`
}

// Handler receives events for one subscription. Handlers for a given
// subscription are invoked sequentially in delivery order.
type Handler func(Event)

// Subscription is the handle returned by Subscribe. Unsubscribe is
// idempotent.
type Subscription struct {
	cancel func()
}

// Unsubscribe stops delivery to this subscription's handler.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Channel is a named-broadcast event source.
type Channel interface {
	// Subscribe registers a handler for one event kind on a named
	// channel. Delivery starts from events published after the call.
	Subscribe(channel, event string, h Handler) (*Subscription, error)
	// Close tears down the channel and all its subscriptions.
	Close() error
}
