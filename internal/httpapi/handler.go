package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/internal/booking"
	"github.com/stagehand/stagehand/internal/models"
	"github.com/stagehand/stagehand/internal/outreach"
)

// OutreachService is the outreach app surface the handler drives.
type OutreachService interface {
	BeginOutreach(ctx context.Context, req outreach.BeginOutreachRequest) (*outreach.BeginOutreachResult, error)
	RetryOutreach(ctx context.Context, bookingID uuid.UUID, eventLocale string) (*outreach.BeginOutreachResult, error)
	RespondByCandidate(ctx context.Context, bookingID, supplierID uuid.UUID, token string, action outreach.Action, amount float64) (*outreach.RespondResult, error)
	ListRequests(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error)
}

// BookingService resolves and creates bookings.
type BookingService interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	CreateBooking(ctx context.Context, req booking.CreateBookingRequest) (*models.Booking, error)
}

// SweepRunner triggers one maintenance sweep on demand.
type SweepRunner interface {
	RunOnce(ctx context.Context) (outreach.SweepStats, error)
}

// OutboxInspector exposes relay backlog depth for health reporting.
type OutboxInspector interface {
	PendingCount(ctx context.Context) (int, error)
}

// Handler wires the REST surface over chi.
type Handler struct {
	outreach OutreachService
	bookings BookingService
	sweeper  SweepRunner
	outbox   OutboxInspector
}

func NewHandler(outreachSvc OutreachService, bookings BookingService, sweeper SweepRunner, outbox OutboxInspector) *Handler {
	return &Handler{
		outreach: outreachSvc,
		bookings: bookings,
		sweeper:  sweeper,
		outbox:   outbox,
	}
}

// Routes mounts every REST endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.health)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.createBooking)
		r.Route("/{bookingID}", func(r chi.Router) {
			r.Get("/", h.getBooking)
			r.Post("/outreach", h.beginOutreach)
			r.Get("/outreach", h.listOutreach)
			r.Post("/outreach/retry", h.retryOutreach)
			r.Post("/candidates/{candidateID}/respond", h.respond)
		})
	})

	r.Post("/internal/maintenance/sweep", h.sweep)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if h.outbox != nil {
		pending, err := h.outbox.PendingCount(r.Context())
		if err != nil {
			resp["status"] = "degraded"
			resp["outbox_error"] = err.Error()
		} else {
			resp["outbox_pending"] = pending
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type createBookingPayload struct {
	ClientID    string   `json:"client_id"`
	EventLocale string   `json:"event_locale"`
	Category    string   `json:"category"`
	HoldAmount  *float64 `json:"hold_amount,omitempty"`
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var payload createBookingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	clientID, err := uuid.Parse(payload.ClientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid client id")
		return
	}

	bkg, err := h.bookings.CreateBooking(r.Context(), booking.CreateBookingRequest{
		ID:          uuid.New(),
		ClientID:    clientID,
		EventLocale: payload.EventLocale,
		Category:    payload.Category,
		HoldAmount:  payload.HoldAmount,
	})
	if err != nil {
		h.internalError(w, err, "failed to create booking")
		return
	}
	writeJSON(w, http.StatusCreated, bkg)
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := parseUUIDParam(w, r, "bookingID")
	if !ok {
		return
	}

	bkg, err := h.bookings.GetBooking(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking not found")
			return
		}
		h.internalError(w, err, "failed to get booking")
		return
	}
	writeJSON(w, http.StatusOK, bkg)
}

type beginOutreachPayload struct {
	EventLocale         string  `json:"event_locale"`
	TimeoutHours        *int    `json:"timeout_hours,omitempty"`
	Mode                string  `json:"mode,omitempty"`
	SelectedCandidateID *string `json:"selected_candidate_id,omitempty"`
}

type outreachRequestView struct {
	CandidateID     string     `json:"candidate_id"`
	PublicLabel     string     `json:"public_label"`
	CapabilityToken string     `json:"capability_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

type beginOutreachResponse struct {
	Status      outreach.BeginStatus         `json:"status"`
	Requests    []outreachRequestView        `json:"requests"`
	SideEffects []outreach.SideEffectFailure `json:"side_effect_failures,omitempty"`
}

func (h *Handler) beginOutreach(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := parseUUIDParam(w, r, "bookingID")
	if !ok {
		return
	}

	var payload beginOutreachPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := outreach.BeginOutreachRequest{
		BookingID:   bookingID,
		EventLocale: payload.EventLocale,
		Mode:        outreach.ModeAuto,
	}
	if payload.TimeoutHours != nil {
		ttl := time.Duration(*payload.TimeoutHours) * time.Hour
		req.TTL = &ttl
	}
	if payload.Mode == string(outreach.ModeManual) {
		req.Mode = outreach.ModeManual
		if payload.SelectedCandidateID == nil {
			writeError(w, http.StatusBadRequest, "manual mode requires selected_candidate_id")
			return
		}
		selected, err := uuid.Parse(*payload.SelectedCandidateID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid selected candidate id")
			return
		}
		req.SelectedSupplierID = &selected
	}

	result, err := h.outreach.BeginOutreach(r.Context(), req)
	if err != nil {
		h.outreachError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, beginResponseView(result))
}

func (h *Handler) retryOutreach(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := parseUUIDParam(w, r, "bookingID")
	if !ok {
		return
	}

	var payload struct {
		EventLocale string `json:"event_locale"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.outreach.RetryOutreach(r.Context(), bookingID, payload.EventLocale)
	if err != nil {
		h.outreachError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, beginResponseView(result))
}

func (h *Handler) listOutreach(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := parseUUIDParam(w, r, "bookingID")
	if !ok {
		return
	}

	requests, err := h.outreach.ListRequests(r.Context(), bookingID)
	if err != nil {
		h.internalError(w, err, "failed to list outreach requests")
		return
	}

	items := make([]outreachListItem, 0, len(requests))
	for _, req := range requests {
		items = append(items, outreachListItem{
			ID:          req.ID.String(),
			CandidateID: req.SupplierID.String(),
			PublicLabel: req.PublicLabel,
			Status:      req.Status,
			ExpiresAt:   req.ExpiresAt,
			RespondedAt: req.RespondedAt,
			CreatedAt:   req.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": items})
}

// outreachListItem is the read-side view of a ledger row. Capability tokens
// never appear here; they are handed out once, at begin time.
type outreachListItem struct {
	ID          string                `json:"id"`
	CandidateID string                `json:"candidate_id"`
	PublicLabel string                `json:"public_label"`
	Status      models.OutreachStatus `json:"status"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
	RespondedAt *time.Time            `json:"responded_at,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

type respondPayload struct {
	Action          string  `json:"action"`
	CapabilityToken string  `json:"capability_token"`
	Token           string  `json:"token"` // accepted as an alias
	Amount          float64 `json:"amount,omitempty"`
}

func (p respondPayload) token() string {
	if p.CapabilityToken != "" {
		return p.CapabilityToken
	}
	return p.Token
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := parseUUIDParam(w, r, "bookingID")
	if !ok {
		return
	}
	candidateID, ok := parseUUIDParam(w, r, "candidateID")
	if !ok {
		return
	}

	var payload respondPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.outreach.RespondByCandidate(r.Context(), bookingID, candidateID,
		payload.token(), outreach.Action(payload.Action), payload.Amount)
	if err != nil {
		h.outreachError(w, err)
		return
	}

	// A stale precondition reads as "expired" to the candidate: their
	// window is gone whatever the internal reason.
	status := string(result.Outcome)
	if result.Outcome == outreach.OutcomeNotApplicable {
		status = "expired"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.internalError(w, err, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"nudged":    stats.Nudged,
		"expired":   stats.Expired,
		"escalated": stats.Escalated,
		"exhausted": stats.Exhausted,
	})
}

func beginResponseView(result *outreach.BeginOutreachResult) beginOutreachResponse {
	views := make([]outreachRequestView, 0, len(result.Requests))
	for _, req := range result.Requests {
		views = append(views, outreachRequestView{
			CandidateID:     req.SupplierID.String(),
			PublicLabel:     req.PublicLabel,
			CapabilityToken: req.CapabilityToken,
			ExpiresAt:       req.ExpiresAt,
		})
	}
	return beginOutreachResponse{
		Status:      result.Status,
		Requests:    views,
		SideEffects: result.SideEffects,
	}
}

// outreachError maps the outreach sentinels onto HTTP statuses.
func (h *Handler) outreachError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, outreach.ErrBookingNotFound) || errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, outreach.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "outreach request not found")
	case errors.Is(err, outreach.ErrNoLocale):
		writeError(w, http.StatusUnprocessableEntity, "no event locale resolvable")
	case errors.Is(err, outreach.ErrMissingToken),
		errors.Is(err, outreach.ErrInvalidAmount),
		errors.Is(err, outreach.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.internalError(w, err, "outreach operation failed")
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
