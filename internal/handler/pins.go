package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/middleware"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/internal/service"
	"github.com/tripmate/tripmate-sync/pkg/logger"
)

// PinHandler handles pin endpoints.
type PinHandler struct {
	store  *service.PinStore
	logger *logger.Logger
}

// NewPinHandler creates a new pin handler.
func NewPinHandler(store *service.PinStore, log *logger.Logger) *PinHandler {
	return &PinHandler{
		store:  store,
		logger: log,
	}
}

// List handles GET /api/v1/pins
func (h *PinHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.State())
}

// Create handles POST /api/v1/pins
func (h *PinHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = model.PinTypeWant
	}
	if err := middleware.ValidatePin(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pin := model.Pin{
		ID:        req.ID,
		Type:      req.Type,
		Coords:    req.Coords,
		PlaceID:   req.PlaceID,
		Title:     req.Title,
		Notes:     req.Notes,
		Source:    req.Source,
		CreatedAt: req.CreatedAt,
		EventDate: req.EventDate,
	}
	if pin.ID == "" {
		pin.ID = uuid.Must(uuid.NewV7()).String()
	}
	if pin.CreatedAt == 0 {
		pin.CreatedAt = time.Now().UnixMilli()
	}
	if pin.Source == "" {
		pin.Source = model.PinSourceUser
	}

	h.store.AddPin(pin)
	middleware.RequestLogger(r.Context(), h.logger).Debug("pin added",
		zap.String("pin_id", pin.ID),
		zap.String("type", string(pin.Type)),
	)

	writeJSON(w, http.StatusCreated, pin)
}

// Delete handles DELETE /api/v1/pins/:id
func (h *PinHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.store.RemovePin(id)
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /api/v1/pins/clear
func (h *PinHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.store.ClearAll()
	writeJSON(w, http.StatusAccepted, h.store.State())
}
