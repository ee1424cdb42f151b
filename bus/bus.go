// Package bus provides the event distribution system for the Trellis client.
// It allows components to publish and subscribe to session and favorites
// events, enabling decoupled communication between the HTTP layer, the
// session controller, and observers such as UIs and monitoring systems.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the type of event published on the bus.
type EventKind string

const (
	// EventSessionChanged is emitted when the authenticated identity changes
	// (login, logout, or a revalidation that resolved the session).
	EventSessionChanged EventKind = "session.changed"

	// EventSessionExpired is emitted exactly once per expiry episode when an
	// authorization failure is detected on any in-flight request.
	EventSessionExpired EventKind = "session.expired"

	// EventSessionCleared is emitted after local credentials have been
	// removed from the credential store.
	EventSessionCleared EventKind = "session.cleared"

	// EventFavoriteAdded is emitted after the backend confirms a favorite
	// addition.
	EventFavoriteAdded EventKind = "favorite.added"

	// EventFavoriteRemoved is emitted after the backend confirms a favorite
	// removal.
	EventFavoriteRemoved EventKind = "favorite.removed"

	// EventCollectionRefreshed is emitted when a catalog collection is
	// replaced by a full fetch.
	EventCollectionRefreshed EventKind = "collection.refreshed"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of something that happened in the client.
// Events should be kept small; payloads carry identifiers, not entities.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string

	// Kind identifies the event type.
	Kind EventKind

	// Time is when the event occurred.
	Time time.Time

	// Payload contains event-specific data (favorite type, item id, etc.).
	Payload map[string]any
}

// NewEvent creates an event of the given kind stamped with a fresh ID and
// the current time.
func NewEvent(kind EventKind) Event {
	return Event{
		ID:   uuid.New().String(),
		Kind: kind,
		Time: time.Now().UTC(),
	}
}

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event Event)

	// Subscribe registers a subscriber for a specific event kind.
	// Returns a Subscription that must be closed when done.
	Subscribe(kind EventKind) Subscription

	// SubscribeAll registers a subscriber that receives every event.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan Event

	// Close unsubscribes and releases resources.
	Close() error
}
