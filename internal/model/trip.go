package model

import "encoding/json"

// DateLayout is the calendar date format of trip dates and travel time keys.
const DateLayout = "2006-01-02"

// TripDetails describes where and when a trip happens.
type TripDetails struct {
	Destination string `json:"destination"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
}

// TripPlace is a stop of a trip.
type TripPlace struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Location      Coords `json:"location"`
	Status        string `json:"status,omitempty"`
	ScheduledTime string `json:"scheduledTime,omitempty"`
	Type          string `json:"type,omitempty"`
}

// Trip is a saved itinerary of one user.
type Trip struct {
	ID      string      `json:"id"`
	UserID  string      `json:"userId"`
	Details TripDetails `json:"details"`
	Places  []TripPlace `json:"places"`
	// DailyTravelTimes maps a date to the travel times the planner computed
	// for it. The values are kept as the client sent them.
	DailyTravelTimes map[string]json.RawMessage `json:"dailyTravelTimes"`
	CreatedAt        int64                      `json:"createdAt"`
	UpdatedAt        int64                      `json:"updatedAt"`
}

// ItineraryPlace is a stop as clients send it. Location may be any of the
// coordinate shapes the events feed uses.
type ItineraryPlace struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Location      any    `json:"location"`
	Status        string `json:"status,omitempty"`
	ScheduledTime string `json:"scheduledTime,omitempty"`
	Type          string `json:"type,omitempty"`
}

// Itinerary is the trip content a client creates or replaces.
type Itinerary struct {
	Details          TripDetails                `json:"details"`
	Places           []ItineraryPlace           `json:"places"`
	DailyTravelTimes map[string]json.RawMessage `json:"dailyTravelTimes,omitempty"`
}

// SaveTripRequest is the request to create or replace a trip.
type SaveTripRequest struct {
	UserID        string    `json:"userId,omitempty"`
	ItineraryData Itinerary `json:"itineraryData"`
}

// TripResponse acknowledges a trip mutation.
type TripResponse struct {
	Status string `json:"status"`
	Trip   *Trip  `json:"trip,omitempty"`
}
