package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/tripmate/tripmate-sync/internal/kv"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store kv.Store
	ready []<-chan struct{}
}

// NewHealthHandler creates a new health handler. The service is ready once
// store answers and every channel in ready is closed.
func NewHealthHandler(store kv.Store, ready ...<-chan struct{}) *HealthHandler {
	return &HealthHandler{
		store: store,
		ready: ready,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	for _, ch := range h.ready {
		select {
		case <-ch:
		default:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "stores loading",
			})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.store == nil || h.store.Ping(ctx) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "storage unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
