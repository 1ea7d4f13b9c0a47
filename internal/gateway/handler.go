package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stagehand/stagehand/internal/events"
)

// Handler exposes the WebSocket endpoints over chi.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Routes mounts the gateway endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws/bookings/{bookingID}", h.watchBooking)
	r.Get("/ws/stats", h.stats)
}

// watchBooking upgrades the request and streams the booking's events.
func (h *Handler) watchBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}

	// UpgradeConnection writes the handshake response itself.
	_ = h.registry.UpgradeConnection(w, r, events.BookingTopic(bookingID))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.registry.Stats())
}
