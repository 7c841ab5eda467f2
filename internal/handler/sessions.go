package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/middleware"
	"github.com/tripmate/tripmate-sync/internal/model"
	"github.com/tripmate/tripmate-sync/internal/service"
	"github.com/tripmate/tripmate-sync/pkg/logger"
)

// SessionHandler handles chat session endpoints.
type SessionHandler struct {
	store  *service.ChatHistoryStore
	logger *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *service.ChatHistoryStore, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		store:  store,
		logger: log,
	}
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.ListSessions()
	total := len(sessions)

	limit := total
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, model.ListSessionsResponse{
		Sessions: sessions[offset:end],
		Total:    total,
	})
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message.Text, req.Message.ImageURI != ""); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := h.store.CreateSession(req.Message)
	h.store.SyncInBackground(id)

	sess, _ := h.store.GetSession(id)
	writeJSON(w, http.StatusCreated, sess)
}

// Get handles GET /api/v1/sessions/:id
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	sess, found := h.store.LoadSession(r.Context(), id)
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Rename handles PUT /api/v1/sessions/:id
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req model.RenameSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, found := h.store.GetSession(id); !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.store.RenameSession(id, req.Title)
	h.store.SyncInBackground(id)

	sess, _ := h.store.GetSession(id)
	writeJSON(w, http.StatusOK, sess)
}

// Delete handles DELETE /api/v1/sessions/:id
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	h.store.DeleteSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// AppendMessage handles POST /api/v1/sessions/:id/messages
func (h *SessionHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var msg model.ChatMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg.Type == "" || msg.Type == model.MessageTypeText {
		if err := middleware.ValidateMessageContent(msg.Text, msg.ImageURI != ""); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if _, found := h.store.GetSession(id); !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.store.AppendMessage(id, msg)
	h.store.SyncInBackground(id)

	sess, _ := h.store.GetSession(id)
	writeJSON(w, http.StatusCreated, sess)
}

// Sync handles POST /api/v1/sessions/:id/sync
func (h *SessionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if _, found := h.store.GetSession(id); !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	h.store.TrySyncSession(r.Context(), id)

	sess, found := h.store.GetSession(id)
	writeJSON(w, http.StatusOK, model.SyncResponse{
		SessionID: id,
		Unsynced:  !found || sess.Unsynced,
	})
}

// SyncPending handles POST /api/v1/sessions/sync
func (h *SessionHandler) SyncPending(w http.ResponseWriter, r *http.Request) {
	attempted, synced := h.store.SyncPending(r.Context())
	middleware.RequestLogger(r.Context(), h.logger).Info("pending sessions synced",
		zap.Int("attempted", attempted),
		zap.Int("synced", synced),
	)

	writeJSON(w, http.StatusOK, model.SyncPendingResponse{
		Attempted: attempted,
		Synced:    synced,
	})
}

// Adopt handles POST /api/v1/sessions/:id/adopt
func (h *SessionHandler) Adopt(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req model.AdoptSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateID(req.NewID); err != nil {
		writeError(w, http.StatusBadRequest, "newId: "+err.Error())
		return
	}

	if _, found := h.store.GetSession(id); !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.store.AdoptSessionID(id, req.NewID)

	sess, found := h.store.GetSession(req.NewID)
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// OverrideCoords handles PUT /api/v1/sessions/:id/map-items/:itemId/coords
func (h *SessionHandler) OverrideCoords(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemId")
	if err := middleware.ValidateID(itemID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.OverrideCoordsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateCoords(req.Coords); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.store.OverrideMapItemCoords(id, itemID, req.Coords) {
		writeError(w, http.StatusNotFound, "map item not found")
		return
	}
	h.store.SyncInBackground(id)

	sess, _ := h.store.GetSession(id)
	writeJSON(w, http.StatusOK, sess)
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
