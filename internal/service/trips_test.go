package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tripmate/tripmate-sync/internal/kv"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
)

func newTestTripStore(t *testing.T, store kv.Store, pub EventPublisher) *TripStore {
	t.Helper()
	s := NewTripStore(store, pub, logger.Nop())
	s.now = func() time.Time { return fixedNow }
	t.Cleanup(s.Close)
	return s
}

func clujItinerary() model.Itinerary {
	return model.Itinerary{
		Details: model.TripDetails{Destination: "Cluj-Napoca", StartDate: "2024-05-01", EndDate: "2024-05-03"},
		Places: []model.ItineraryPlace{
			{Name: "Botanical Garden", Location: map[string]any{"latitude": 46.7607, "longitude": 23.5887}, Status: "planned", ScheduledTime: "2024-05-01T09:00:00Z", Type: "park"},
			{Name: "St. Michael's Church", Location: "46.7699,23.5897", Type: "landmark"},
		},
		DailyTravelTimes: map[string]json.RawMessage{"2024-05-01": json.RawMessage(`[12,8]`)},
	}
}

func TestTripStoreCreateAndList(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestTripStore(t, kv.NewMemoryStore(), pub)
	s.Load(context.Background())
	ctx := context.Background()

	trip, err := s.CreateTrip(ctx, "traveller-1", clujItinerary())
	if err != nil {
		t.Fatalf("CreateTrip: %v", err)
	}
	if trip.ID == "" || trip.UserID != "traveller-1" || trip.CreatedAt != fixedNow.UnixMilli() {
		t.Errorf("trip = %+v", trip)
	}
	if len(trip.Places) != 2 || trip.Places[0].ID == "" || trip.Places[0].ID == trip.Places[1].ID {
		t.Fatalf("places = %+v", trip.Places)
	}
	if trip.Places[1].Location != (model.Coords{Latitude: 46.7699, Longitude: 23.5897}) {
		t.Errorf("normalized location = %+v", trip.Places[1].Location)
	}
	if string(trip.DailyTravelTimes["2024-05-01"]) != `[12,8]` {
		t.Errorf("travel times = %s", trip.DailyTravelTimes["2024-05-01"])
	}

	if _, err := s.CreateTrip(ctx, "traveller-2", clujItinerary()); err != nil {
		t.Fatal(err)
	}
	second, _ := s.CreateTrip(ctx, "traveller-1", model.Itinerary{Details: model.TripDetails{Destination: "Sibiu"}})

	mine, err := s.ListTrips(ctx, "traveller-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].ID != second.ID || mine[1].ID != trip.ID {
		t.Errorf("trips = %+v", mine)
	}
	if mine[0].Places == nil || mine[0].DailyTravelTimes == nil {
		t.Error("empty trip should list empty places and travel times")
	}
	if none, _ := s.ListTrips(ctx, "nobody"); none == nil || len(none) != 0 {
		t.Errorf("unknown user trips = %v", none)
	}

	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}
	if n := pub.types()[model.EventTripCreated]; n != 3 {
		t.Errorf("trip.created events = %d, want 3", n)
	}
}

func TestTripStoreCreateRejectsPlaceWithoutCoords(t *testing.T) {
	s := newTestTripStore(t, kv.NewMemoryStore(), nil)
	s.Load(context.Background())

	it := clujItinerary()
	it.Places[0].Location = "somewhere nice"
	if _, err := s.CreateTrip(context.Background(), "traveller-1", it); !errors.Is(err, ErrInvalidTrip) {
		t.Fatalf("err = %v, want ErrInvalidTrip", err)
	}
	if trips, _ := s.ListTrips(context.Background(), "traveller-1"); len(trips) != 0 {
		t.Errorf("trips = %+v", trips)
	}
}

func TestTripStoreUpdateTrip(t *testing.T) {
	s := newTestTripStore(t, kv.NewMemoryStore(), nil)
	s.Load(context.Background())
	ctx := context.Background()

	trip, _ := s.CreateTrip(ctx, "traveller-1", clujItinerary())
	keep := trip.Places[0].ID

	update := model.Itinerary{
		Details: model.TripDetails{Destination: "Cluj-Napoca", StartDate: "2024-05-02", EndDate: "2024-05-04"},
		Places: []model.ItineraryPlace{
			{ID: keep, Name: "Botanical Garden", Location: []any{46.7607, 23.5887}, Status: "visited"},
			{ID: keep, Name: "Duplicate id", Location: []any{46.77, 23.59}},
			{ID: "made-up", Name: "Central Park", Location: map[string]any{"lat": 46.769, "lng": 23.578}},
		},
	}
	got, err := s.UpdateTrip(ctx, "traveller-1", trip.ID, update)
	if err != nil {
		t.Fatalf("UpdateTrip: %v", err)
	}
	if got.Details.StartDate != "2024-05-02" || got.UpdatedAt <= trip.UpdatedAt {
		t.Errorf("trip = %+v", got)
	}
	if len(got.Places) != 3 || got.Places[0].ID != keep || got.Places[0].Status != "visited" {
		t.Fatalf("places = %+v", got.Places)
	}
	if got.Places[1].ID == keep || got.Places[2].ID == "made-up" {
		t.Errorf("ids not reassigned: %+v", got.Places)
	}
	if len(got.DailyTravelTimes) != 0 {
		t.Errorf("travel times = %v, want replaced", got.DailyTravelTimes)
	}

	if _, err := s.UpdateTrip(ctx, "traveller-2", trip.ID, update); !errors.Is(err, ErrTripNotFound) {
		t.Errorf("foreign update err = %v, want ErrTripNotFound", err)
	}
	if _, err := s.UpdateTrip(ctx, "traveller-1", "missing", update); !errors.Is(err, ErrTripNotFound) {
		t.Errorf("missing trip err = %v, want ErrTripNotFound", err)
	}
}

func TestTripStoreDeletePlace(t *testing.T) {
	s := newTestTripStore(t, kv.NewMemoryStore(), nil)
	s.Load(context.Background())
	ctx := context.Background()

	trip, _ := s.CreateTrip(ctx, "traveller-1", clujItinerary())
	placeID := trip.Places[0].ID

	if removed, _ := s.DeletePlace(ctx, "traveller-2", placeID); removed {
		t.Error("removed a place of another user")
	}
	removed, err := s.DeletePlace(ctx, "traveller-1", placeID)
	if err != nil || !removed {
		t.Fatalf("DeletePlace = %v, %v", removed, err)
	}
	if removed, _ := s.DeletePlace(ctx, "traveller-1", placeID); removed {
		t.Error("second delete reported a removal")
	}

	trips, _ := s.ListTrips(ctx, "traveller-1")
	if len(trips[0].Places) != 1 || trips[0].Places[0].Name != "St. Michael's Church" {
		t.Errorf("places = %+v", trips[0].Places)
	}
}

func TestTripStorePersistsAcrossRestart(t *testing.T) {
	store := kv.NewMemoryStore()
	s := newTestTripStore(t, store, nil)
	s.Load(context.Background())

	trip, _ := s.CreateTrip(context.Background(), "traveller-1", clujItinerary())
	if err := s.Flush(flushCtx(t)); err != nil {
		t.Fatal(err)
	}

	restarted := newTestTripStore(t, store, nil)
	restarted.Load(context.Background())
	trips, err := restarted.ListTrips(context.Background(), "traveller-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trips) != 1 || trips[0].ID != trip.ID || len(trips[0].Places) != 2 {
		t.Fatalf("trips = %+v", trips)
	}
	if string(trips[0].DailyTravelTimes["2024-05-01"]) != `[12,8]` {
		t.Errorf("travel times = %v", trips[0].DailyTravelTimes)
	}
}

func TestTripStoreWaitsForLoad(t *testing.T) {
	store := kv.NewMemoryStore()
	writeJSON(t, store, tripStorageKey, persistedTrips{Trips: []model.Trip{
		{ID: "stored-1", UserID: "traveller-1", Details: model.TripDetails{Destination: "Turda"}},
	}})
	s := newTestTripStore(t, store, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.ListTrips(ctx, "traveller-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v before load, want deadline exceeded", err)
	}

	created := make(chan error, 1)
	go func() {
		_, err := s.CreateTrip(context.Background(), "traveller-1", model.Itinerary{Details: model.TripDetails{Destination: "Sibiu"}})
		created <- err
	}()
	s.Start(context.Background())
	if err := <-created; err != nil {
		t.Fatal(err)
	}

	trips, _ := s.ListTrips(context.Background(), "traveller-1")
	if len(trips) != 2 || trips[1].ID != "stored-1" || trips[1].Places == nil {
		t.Errorf("trips = %+v", trips)
	}
}

func TestTripStoreLoadFailsOpen(t *testing.T) {
	store := newFlakyKV()
	store.setFailures(true, false)
	s := newTestTripStore(t, store, nil)
	s.Load(context.Background())

	trips, err := s.ListTrips(context.Background(), "traveller-1")
	if err != nil || len(trips) != 0 {
		t.Errorf("trips = %+v, %v", trips, err)
	}
}

func TestTripStoreListReturnsCopies(t *testing.T) {
	s := newTestTripStore(t, kv.NewMemoryStore(), nil)
	s.Load(context.Background())
	ctx := context.Background()
	_, _ = s.CreateTrip(ctx, "traveller-1", clujItinerary())

	trips, _ := s.ListTrips(ctx, "traveller-1")
	trips[0].Places[0].Name = "changed"
	trips[0].DailyTravelTimes["2024-05-01"][1] = 'X'

	again, _ := s.ListTrips(ctx, "traveller-1")
	if again[0].Places[0].Name != "Botanical Garden" || string(again[0].DailyTravelTimes["2024-05-01"]) != `[12,8]` {
		t.Errorf("store state changed through a copy: %+v", again[0])
	}
}
