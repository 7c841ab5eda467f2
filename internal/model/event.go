package model

import (
	"time"
)

// EventType names a state transition of one of the stores.
type EventType string

const (
	EventPinAdded          EventType = "pin.added"
	EventPinRemoved        EventType = "pin.removed"
	EventPinsCleared       EventType = "pins.cleared"
	EventSessionCreated    EventType = "session.created"
	EventSessionUpdated    EventType = "session.updated"
	EventSessionDeleted    EventType = "session.deleted"
	EventSessionAdopted    EventType = "session.adopted"
	EventSessionSynced     EventType = "session.synced"
	EventSessionSyncFailed EventType = "session.sync_failed"
	EventTripCreated       EventType = "trip.created"
	EventTripUpdated       EventType = "trip.updated"
	EventPlaceRemoved      EventType = "place.removed"
)

// StoreEvent is published after a store applied a mutation.
type StoreEvent struct {
	ID        string            `json:"id"`
	Store     string            `json:"store"`
	Type      EventType         `json:"type"`
	SubjectID string            `json:"subject_id"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
