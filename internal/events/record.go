// Package events turns event feed records into pins for the external
// partition of the pin store.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tripmate/tripmate-sync/internal/geo"
	"github.com/tripmate/tripmate-sync/internal/model"
)

var eventNamespace = uuid.MustParse("5b7c0f3e-9a53-4f43-9d0f-2f1c8f5e0a11")

// Record is one entry of an events feed. Coordinates may come in any shape
// geo.Normalize understands, under either "coords" or "location".
type Record struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	PlaceID     string          `json:"placeId"`
	Coords      json.RawMessage `json:"coords"`
	Location    json.RawMessage `json:"location"`
	EventDate   *int64          `json:"eventDate"`
	CreatedAt   int64           `json:"createdAt"`
}

// Pin converts a record into an event pin. Records without usable
// coordinates or without a title are rejected.
func (r Record) Pin(now int64) (model.Pin, bool) {
	coords, ok := geo.NormalizeRaw(r.Coords)
	if !ok {
		coords, ok = geo.NormalizeRaw(r.Location)
	}
	if !ok || !geo.Valid(coords) {
		return model.Pin{}, false
	}

	title := r.Title
	if title == "" {
		title = r.Name
	}
	if title == "" {
		return model.Pin{}, false
	}

	id := r.ID
	if id == "" {
		// Stable across refreshes so clients can keep addressing the same pin.
		seed := fmt.Sprintf("%s|%.6f|%.6f", title, coords.Latitude, coords.Longitude)
		id = "event-" + uuid.NewSHA1(eventNamespace, []byte(seed)).String()
	}

	createdAt := r.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}

	return model.Pin{
		ID:        id,
		Type:      model.PinTypeEvent,
		Coords:    coords,
		PlaceID:   r.PlaceID,
		Title:     title,
		Notes:     r.Description,
		Source:    model.PinSourceAPI,
		CreatedAt: createdAt,
		EventDate: r.EventDate,
	}, true
}

// Pins converts records, dropping the unusable ones.
func Pins(records []Record, now int64) []model.Pin {
	pins := make([]model.Pin, 0, len(records))
	for _, r := range records {
		if p, ok := r.Pin(now); ok {
			pins = append(pins, p)
		}
	}
	return pins
}
