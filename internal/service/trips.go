package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/geo"
	"github.com/tripmate/tripmate-sync/internal/kv"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/pkg/logger"
	"github.com/tripmate/tripmate-sync/pkg/metrics"
)

const tripStorageKey = "trips:v1"

var (
	ErrTripNotFound = errors.New("trip not found")
	ErrInvalidTrip  = errors.New("invalid trip")
)

type persistedTrips struct {
	Trips []model.Trip `json:"trips"`
}

// TripStore owns the saved trips of all users, newest first. Operations wait
// for the initial load instead of merging into it.
type TripStore struct {
	kv     kv.Store
	writer *snapshotWriter
	notify *notifier
	logger *logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	trips []*model.Trip

	startOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}
}

// NewTripStore creates a trip store. pub may be nil.
func NewTripStore(store kv.Store, pub EventPublisher, log *logger.Logger) *TripStore {
	log = log.ForStore("trips")
	return &TripStore{
		kv:     store,
		writer: newSnapshotWriter(store, tripStorageKey, "trips", log),
		notify: &notifier{pub: pub, store: "trips", logger: log},
		logger: log,
		now:    time.Now,
		ready:  make(chan struct{}),
	}
}

// Start loads the store in the background. Calls after the first are no-ops.
func (t *TripStore) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		go t.Load(ctx)
	})
}

// Ready is closed once the initial load completed.
func (t *TripStore) Ready() <-chan struct{} {
	return t.ready
}

// Load restores trips from storage. Unreadable state loads as empty.
func (t *TripStore) Load(ctx context.Context) {
	defer t.readyOnce.Do(func() { close(t.ready) })

	stored := t.readStored(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.trips = t.trips[:0]
	for i := range stored {
		trip := stored[i]
		if trip.ID == "" {
			continue
		}
		if trip.Places == nil {
			trip.Places = []model.TripPlace{}
		}
		t.trips = append(t.trips, &trip)
	}
	metrics.TripsCurrent.Set(float64(len(t.trips)))

	t.logger.Info("trips loaded", zap.Int("trips", len(t.trips)))
}

func (t *TripStore) readStored(ctx context.Context) []model.Trip {
	raw, err := t.kv.Get(ctx, tripStorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.logger.Warn("failed to read trips, starting empty", zap.Error(err))
		return nil
	}

	var state persistedTrips
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		t.logger.Warn("discarding unparsable trips", zap.Error(err))
		return nil
	}
	return state.Trips
}

func (t *TripStore) awaitLoaded(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListTrips returns copies of the user's trips, newest first.
func (t *TripStore) ListTrips(ctx context.Context, userID string) ([]model.Trip, error) {
	if err := t.awaitLoaded(ctx); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := []model.Trip{}
	for _, trip := range t.trips {
		if trip.UserID == userID {
			out = append(out, copyTrip(*trip))
		}
	}
	return out, nil
}

// CreateTrip saves a new trip for userID. Every place gets a fresh id.
func (t *TripStore) CreateTrip(ctx context.Context, userID string, it model.Itinerary) (model.Trip, error) {
	if err := t.awaitLoaded(ctx); err != nil {
		return model.Trip{}, err
	}
	places, err := buildPlaces(it.Places, nil)
	if err != nil {
		return model.Trip{}, err
	}

	now := t.now().UnixMilli()
	trip := &model.Trip{
		ID:               uuid.Must(uuid.NewV7()).String(),
		UserID:           userID,
		Details:          it.Details,
		Places:           places,
		DailyTravelTimes: copyTravelTimes(it.DailyTravelTimes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	t.mu.Lock()
	t.trips = append([]*model.Trip{trip}, t.trips...)
	t.mutatedLocked()
	out := copyTrip(*trip)
	t.mu.Unlock()

	t.notify.emit(model.EventTripCreated, trip.ID, map[string]string{"places": fmt.Sprint(len(places))})
	return out, nil
}

// UpdateTrip replaces the content of one of the user's trips. Places that
// carry the id of a place already on the trip keep it.
func (t *TripStore) UpdateTrip(ctx context.Context, userID, tripID string, it model.Itinerary) (model.Trip, error) {
	if err := t.awaitLoaded(ctx); err != nil {
		return model.Trip{}, err
	}

	t.mu.Lock()
	trip := t.findLocked(userID, tripID)
	if trip == nil {
		t.mu.Unlock()
		return model.Trip{}, ErrTripNotFound
	}
	existing := make(map[string]bool, len(trip.Places))
	for _, p := range trip.Places {
		existing[p.ID] = true
	}
	places, err := buildPlaces(it.Places, existing)
	if err != nil {
		t.mu.Unlock()
		return model.Trip{}, err
	}

	trip.Details = it.Details
	trip.Places = places
	trip.DailyTravelTimes = copyTravelTimes(it.DailyTravelTimes)
	now := t.now().UnixMilli()
	if now <= trip.UpdatedAt {
		now = trip.UpdatedAt + 1
	}
	trip.UpdatedAt = now
	t.mutatedLocked()
	out := copyTrip(*trip)
	t.mu.Unlock()

	t.notify.emit(model.EventTripUpdated, tripID, map[string]string{"places": fmt.Sprint(len(places))})
	return out, nil
}

// DeletePlace removes the place from whichever of the user's trips holds it.
// It reports whether a place was removed.
func (t *TripStore) DeletePlace(ctx context.Context, userID, placeID string) (bool, error) {
	if err := t.awaitLoaded(ctx); err != nil {
		return false, err
	}

	t.mu.Lock()
	var tripID string
	for _, trip := range t.trips {
		if trip.UserID != userID {
			continue
		}
		for i, p := range trip.Places {
			if p.ID == placeID {
				trip.Places = append(trip.Places[:i:i], trip.Places[i+1:]...)
				trip.UpdatedAt = max(t.now().UnixMilli(), trip.UpdatedAt+1)
				tripID = trip.ID
				break
			}
		}
		if tripID != "" {
			break
		}
	}
	if tripID == "" {
		t.mu.Unlock()
		return false, nil
	}
	t.mutatedLocked()
	t.mu.Unlock()

	t.notify.emit(model.EventPlaceRemoved, placeID, map[string]string{"trip_id": tripID})
	return true, nil
}

// Flush waits for event publishing and queued writes.
func (t *TripStore) Flush(ctx context.Context) error {
	if err := t.notify.wait(ctx); err != nil {
		return err
	}
	return t.writer.flush(ctx)
}

// Close writes any pending snapshot and stops the writer.
func (t *TripStore) Close() {
	t.writer.close()
}

func (t *TripStore) findLocked(userID, tripID string) *model.Trip {
	for _, trip := range t.trips {
		if trip.ID == tripID && trip.UserID == userID {
			return trip
		}
	}
	return nil
}

func (t *TripStore) mutatedLocked() {
	metrics.TripsCurrent.Set(float64(len(t.trips)))

	state := persistedTrips{Trips: make([]model.Trip, len(t.trips))}
	for i, trip := range t.trips {
		state.Trips[i] = *trip
	}
	data, err := json.Marshal(state)
	if err != nil {
		t.logger.Error("failed to encode trips", zap.Error(err))
		return
	}
	t.writer.enqueue(data)
}

// buildPlaces turns client places into stored ones. Ids found in keep are
// reused once; all others are replaced by fresh ones.
func buildPlaces(in []model.ItineraryPlace, keep map[string]bool) ([]model.TripPlace, error) {
	out := make([]model.TripPlace, 0, len(in))
	used := make(map[string]bool, len(in))
	for i, p := range in {
		coords, ok := geo.Normalize(p.Location)
		if !ok || !geo.Valid(coords) {
			return nil, fmt.Errorf("%w: place %d has no coordinates", ErrInvalidTrip, i)
		}
		id := p.ID
		if id == "" || !keep[id] || used[id] {
			id = uuid.Must(uuid.NewV7()).String()
		}
		used[id] = true
		out = append(out, model.TripPlace{
			ID:            id,
			Name:          p.Name,
			Location:      coords,
			Status:        p.Status,
			ScheduledTime: p.ScheduledTime,
			Type:          p.Type,
		})
	}
	return out, nil
}
