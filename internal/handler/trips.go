package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/middleware"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/internal/service"
	"github.com/tripmate/tripmate-sync/pkg/logger"
)

// loadWait bounds how long a request waits for the trip store to load.
const loadWait = 5 * time.Second

// TripHandler handles trip planner endpoints. Every trip belongs to the
// authenticated user.
type TripHandler struct {
	store  *service.TripStore
	logger *logger.Logger
}

// NewTripHandler creates a new trip handler.
func NewTripHandler(store *service.TripStore, log *logger.Logger) *TripHandler {
	return &TripHandler{
		store:  store,
		logger: log,
	}
}

// List handles GET /api/v1/my/:userId/trips
func (h *TripHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.owner(w, r, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), loadWait)
	defer cancel()
	trips, err := h.store.ListTrips(ctx, userID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

// Create handles POST /api/v1/trips
func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.SaveTripRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, ok := h.owner(w, r, req.UserID)
	if !ok {
		return
	}
	if err := middleware.ValidateItinerary(&req.ItineraryData); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), loadWait)
	defer cancel()
	trip, err := h.store.CreateTrip(ctx, userID, req.ItineraryData)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	middleware.RequestLogger(r.Context(), h.logger).Debug("trip created",
		zap.String("trip_id", trip.ID),
		zap.Int("places", len(trip.Places)),
	)

	writeJSON(w, http.StatusCreated, model.TripResponse{Status: "success", Trip: &trip})
}

// Update handles PUT /api/v1/trips/:tripId
func (h *TripHandler) Update(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	if err := middleware.ValidateID(tripID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SaveTripRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, ok := h.owner(w, r, req.UserID)
	if !ok {
		return
	}
	if err := middleware.ValidateItinerary(&req.ItineraryData); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), loadWait)
	defer cancel()
	trip, err := h.store.UpdateTrip(ctx, userID, tripID, req.ItineraryData)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TripResponse{Status: "success", Trip: &trip})
}

// DeletePlace handles DELETE /api/v1/places/:placeId. Deleting a place that
// is already gone succeeds.
func (h *TripHandler) DeletePlace(w http.ResponseWriter, r *http.Request) {
	placeID := chi.URLParam(r, "placeId")
	if err := middleware.ValidateID(placeID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), loadWait)
	defer cancel()
	removed, err := h.store.DeletePlace(ctx, middleware.GetUserID(r.Context()), placeID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !removed {
		middleware.RequestLogger(r.Context(), h.logger).Debug("place already gone", zap.String("place_id", placeID))
	}
	writeJSON(w, http.StatusOK, model.TripResponse{Status: "success"})
}

// owner resolves the user a request acts for. A user id named in the path or
// body must be the caller's own.
func (h *TripHandler) owner(w http.ResponseWriter, r *http.Request, named string) (string, bool) {
	caller := middleware.GetUserID(r.Context())
	if named != "" && named != caller {
		writeError(w, http.StatusForbidden, "trips of other users are not accessible")
		return "", false
	}
	return caller, true
}

func (h *TripHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrTripNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTrip):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "trips are still loading")
	default:
		middleware.RequestLogger(r.Context(), h.logger).Error("trip store failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to handle trip")
	}
}
