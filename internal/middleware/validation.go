package middleware

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tripmate/tripmate-sync/internal/geo"
	"github.com/tripmate/tripmate-sync/internal/model"
)

const (
	maxIDLength      = 128
	maxTitleLength   = 256
	maxContentLength = 100000 // ~100KB
	maxTripPlaces    = 500
)

// ValidateMessageContent validates message text. Messages that carry only an
// image may have empty text.
func ValidateMessageContent(content string, hasImage bool) error {
	if strings.TrimSpace(content) == "" && !hasImage {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateID validates a session, pin or map item id taken from the path.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New("id exceeds maximum length")
	}
	if strings.ContainsAny(id, "/?#") {
		return errors.New("id contains invalid characters")
	}
	return nil
}

// ValidateTitle validates a session title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title cannot be empty")
	}
	if len(title) > maxTitleLength {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}

// ValidateCoords validates a latitude/longitude pair.
func ValidateCoords(c model.Coords) error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return errors.New("coordinates must be numbers")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return errors.New("latitude out of range")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return errors.New("longitude out of range")
	}
	return nil
}

// ValidatePin validates a pin creation request.
func ValidatePin(req *model.CreatePinRequest) error {
	if req.ID != "" {
		if err := ValidateID(req.ID); err != nil {
			return err
		}
	}
	if req.Type == "" {
		return errors.New("pin type is required")
	}
	if err := ValidateTitle(req.Title); err != nil {
		return err
	}
	return ValidateCoords(req.Coords)
}

// ValidateItinerary validates a trip before it is created or replaced.
func ValidateItinerary(it *model.Itinerary) error {
	if err := ValidateTitle(it.Details.Destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	var start, end time.Time
	var err error
	if it.Details.StartDate != "" {
		if start, err = time.Parse(model.DateLayout, it.Details.StartDate); err != nil {
			return errors.New("startDate must be YYYY-MM-DD")
		}
	}
	if it.Details.EndDate != "" {
		if end, err = time.Parse(model.DateLayout, it.Details.EndDate); err != nil {
			return errors.New("endDate must be YYYY-MM-DD")
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return errors.New("endDate is before startDate")
	}

	if len(it.Places) > maxTripPlaces {
		return errors.New("too many places")
	}
	for i, p := range it.Places {
		if p.ID != "" {
			if err := ValidateID(p.ID); err != nil {
				return fmt.Errorf("place %d: %w", i, err)
			}
		}
		if err := ValidateTitle(p.Name); err != nil {
			return fmt.Errorf("place %d name: %w", i, err)
		}
		coords, ok := geo.Normalize(p.Location)
		if !ok {
			return fmt.Errorf("place %d: location has no coordinates", i)
		}
		if err := ValidateCoords(coords); err != nil {
			return fmt.Errorf("place %d: %w", i, err)
		}
		if p.ScheduledTime != "" {
			if _, err := time.Parse(time.RFC3339, p.ScheduledTime); err != nil {
				return fmt.Errorf("place %d: scheduledTime must be RFC 3339", i)
			}
		}
	}

	for date := range it.DailyTravelTimes {
		if _, err := time.Parse(model.DateLayout, date); err != nil {
			return fmt.Errorf("dailyTravelTimes key %q must be YYYY-MM-DD", date)
		}
	}
	return nil
}
