package models

// EventKind represents the kind of a store change event.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// Event is a change event for one persisted entity. OfferUndo is set only
// on delete events where the store retains the row for an undo window.
type Event[T any] struct {
	Kind      EventKind
	Entity    T
	OfferUndo bool
}
