package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/middleware"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/internal/service"
	"github.com/tripmate/tripmate-sync/pkg/logger"
)

// GuideHandler handles guide conversation endpoints.
type GuideHandler struct {
	guide  *service.GuideService
	logger *logger.Logger
}

// NewGuideHandler creates a new guide handler.
func NewGuideHandler(guide *service.GuideService, log *logger.Logger) *GuideHandler {
	return &GuideHandler{
		guide:  guide,
		logger: log,
	}
}

// Send handles POST /api/v1/guide/messages
func (h *GuideHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID != "" {
		if err := middleware.ValidateID(req.SessionID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	req.UserID = middleware.GetUserID(r.Context())

	resp, err := h.guide.Send(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, service.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrResponderFailed):
		middleware.RequestLogger(r.Context(), h.logger).Warn("guide unavailable",
			zap.String("session_id", resp.SessionID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		writeError(w, http.StatusInternalServerError, "failed to send message")
	}
}

// SavePlace handles POST /api/v1/guide/sessions/:id/places/:itemId
func (h *GuideHandler) SavePlace(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemId")
	if err := middleware.ValidateID(itemID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pin, err := h.guide.SavePlace(r.Context(), id, itemID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, pin)
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrMapItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to save place")
	}
}
