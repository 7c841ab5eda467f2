package model

// PinType tags which partition of the pin store a pin belongs to.
type PinType string

const (
	// PinTypeWant is a user-created "want to go" marker. Persisted.
	PinTypeWant PinType = "want"
	// PinTypeEvent is a marker sourced from the events feed. Regenerated, never persisted.
	PinTypeEvent PinType = "event"
)

// Durable reports whether pins of this type live in the persisted partition.
func (t PinType) Durable() bool {
	return t == PinTypeWant
}

// PinSource records where a pin came from. Informational only.
type PinSource string

const (
	PinSourceUser PinSource = "user"
	PinSourceEye  PinSource = "eye"
	PinSourceChat PinSource = "chat"
	PinSourceAPI  PinSource = "api"
)

// Coords is a latitude/longitude pair in degrees.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Pin is a single map marker.
type Pin struct {
	ID        string    `json:"id"`
	Type      PinType   `json:"type"`
	Coords    Coords    `json:"coords"`
	PlaceID   string    `json:"placeId,omitempty"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes,omitempty"`
	Source    PinSource `json:"source,omitempty"`
	CreatedAt int64     `json:"createdAt"`
	EventDate *int64    `json:"eventDate,omitempty"`
}

// PinState is a snapshot of the pin store.
type PinState struct {
	WantToGo []Pin `json:"wantToGo"`
	Events   []Pin `json:"events"`
}

// CreatePinRequest is the request to add a pin.
type CreatePinRequest struct {
	ID        string    `json:"id,omitempty"`
	Type      PinType   `json:"type"`
	Coords    Coords    `json:"coords"`
	PlaceID   string    `json:"placeId,omitempty"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes,omitempty"`
	Source    PinSource `json:"source,omitempty"`
	CreatedAt int64     `json:"createdAt,omitempty"`
	EventDate *int64    `json:"eventDate,omitempty"`
}
