package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/internal/events"
	"github.com/stagehand/stagehand/internal/models"
)

// LedgerRepository is the persistence contract the app layer drives.
type LedgerRepository interface {
	GetRequest(ctx context.Context, id uuid.UUID) (*models.OutreachRequest, error)
	LatestByBookingAndSupplier(ctx context.Context, bookingID, supplierID uuid.UUID) (*models.OutreachRequest, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error)
	ActiveByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error)
	ContactedSupplierIDs(ctx context.Context, bookingID uuid.UUID) ([]uuid.UUID, error)
	CreateRequests(ctx context.Context, bookingID uuid.UUID, requests []models.OutreachRequest, envelope []byte, now time.Time) error
	Accept(ctx context.Context, id uuid.UUID, token string, amount float64, now time.Time, buildEnvelope func(winner models.OutreachRequest, expiredSiblings []uuid.UUID) ([]byte, error)) (*models.OutreachRequest, error)
	Decline(ctx context.Context, id uuid.UUID, token string, now time.Time, buildEnvelope func(declined models.OutreachRequest) ([]byte, error)) (*models.OutreachRequest, error)
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	SetLinkedThread(ctx context.Context, id, threadID uuid.UUID) error
}

// SupplierDirectory loads candidate pools for ranking.
type SupplierDirectory interface {
	GetSupplier(ctx context.Context, id uuid.UUID) (*models.Supplier, error)
	PreferredCandidates(ctx context.Context, locale, category string) ([]models.Supplier, error)
	FallbackCandidates(ctx context.Context, locale, category string) ([]models.Supplier, error)
}

// BookingStore resolves bookings referenced by outreach calls.
type BookingStore interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
}

// ThreadCreator opens chat threads for contacted suppliers. Thread creation
// is a best-effort side effect of outreach, never part of its transaction.
type ThreadCreator interface {
	CreateThread(ctx context.Context, bookingID, supplierID uuid.UUID) (*models.ChatThread, error)
}

// Settings are the tunables of the outreach app.
type Settings struct {
	MaxFanout  int
	DefaultTTL time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MaxFanout:  3,
		DefaultTTL: 24 * time.Hour,
	}
}

// App coordinates candidate selection, the ledger, and side effects.
type App struct {
	repo      LedgerRepository
	suppliers SupplierDirectory
	bookings  BookingStore
	threads   ThreadCreator
	clock     clockwork.Clock
	settings  Settings
}

func NewApp(repo LedgerRepository, suppliers SupplierDirectory, bookings BookingStore, threads ThreadCreator, clock clockwork.Clock, settings Settings) *App {
	return &App{
		repo:      repo,
		suppliers: suppliers,
		bookings:  bookings,
		threads:   threads,
		clock:     clock,
		settings:  settings,
	}
}

// BeginOutreach starts an outreach round for a booking. If the booking
// already has an accepted or open request the call is an idempotent no-op
// that reports already_in_progress alongside the active requests.
func (a *App) BeginOutreach(ctx context.Context, req BeginOutreachRequest) (*BeginOutreachResult, error) {
	bkg, err := a.bookings.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	locale := req.EventLocale
	if locale == "" {
		locale = bkg.EventLocale
	}
	if locale == "" {
		return nil, ErrNoLocale
	}

	candidates, err := a.selectCandidates(ctx, req, bkg, locale, nil)
	if err != nil {
		return nil, err
	}
	return a.beginWithSuppliers(ctx, req.BookingID, candidates, req.TTL)
}

// RetryOutreach starts a fresh round excluding every supplier already
// contacted for the booking. The sweeper calls this after an expiry pass;
// the API exposes it for manual escalation.
func (a *App) RetryOutreach(ctx context.Context, bookingID uuid.UUID, eventLocale string) (*BeginOutreachResult, error) {
	bkg, err := a.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	locale := eventLocale
	if locale == "" {
		locale = bkg.EventLocale
	}
	if locale == "" {
		return nil, ErrNoLocale
	}

	contacted, err := a.repo.ContactedSupplierIDs(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	req := BeginOutreachRequest{BookingID: bookingID, EventLocale: locale, Mode: ModeAuto}
	candidates, err := a.selectCandidates(ctx, req, bkg, locale, contacted)
	if err != nil {
		return nil, err
	}
	return a.beginWithSuppliers(ctx, bookingID, candidates, nil)
}

func (a *App) selectCandidates(ctx context.Context, req BeginOutreachRequest, bkg *models.Booking, locale string, exclude []uuid.UUID) ([]models.Supplier, error) {
	input := SelectionInput{
		Exclude:   exclude,
		MaxFanout: a.settings.MaxFanout,
	}

	if req.Mode == ModeManual {
		if req.SelectedSupplierID == nil {
			return nil, fmt.Errorf("manual outreach requires a selected supplier")
		}
		selected, err := a.suppliers.GetSupplier(ctx, *req.SelectedSupplierID)
		if err != nil {
			return nil, err
		}
		input.Override = selected
		return RankCandidates(input), nil
	}

	preferred, err := a.suppliers.PreferredCandidates(ctx, locale, bkg.Category)
	if err != nil {
		return nil, err
	}
	fallback, err := a.suppliers.FallbackCandidates(ctx, locale, bkg.Category)
	if err != nil {
		return nil, err
	}
	input.Preferred = preferred
	input.Fallback = fallback
	return RankCandidates(input), nil
}

func (a *App) beginWithSuppliers(ctx context.Context, bookingID uuid.UUID, candidates []models.Supplier, ttl *time.Duration) (*BeginOutreachResult, error) {
	if len(candidates) == 0 {
		return &BeginOutreachResult{Status: BeginStatusNoCandidates}, nil
	}

	now := a.clock.Now().UTC()
	effectiveTTL := a.settings.DefaultTTL
	if ttl != nil {
		effectiveTTL = *ttl
	}

	requests := make([]models.OutreachRequest, 0, len(candidates))
	contacted := make([]events.ContactedSupplier, 0, len(candidates))
	for _, s := range candidates {
		req := models.OutreachRequest{
			ID:              uuid.New(),
			BookingID:       bookingID,
			SupplierID:      s.ID,
			Status:          models.OutreachStatusSent,
			CapabilityToken: uuid.New().String(),
			PublicLabel:     s.Name,
			CreatedAt:       now,
		}
		if effectiveTTL > 0 {
			expires := now.Add(effectiveTTL)
			req.ExpiresAt = &expires
		}
		requests = append(requests, req)
		contacted = append(contacted, events.ContactedSupplier{
			RequestID:   req.ID.String(),
			SupplierID:  s.ID.String(),
			PublicLabel: s.Name,
			ExpiresAt:   req.ExpiresAt,
		})
	}

	envelope, err := events.Marshal(
		events.EventTypeOutreachStarted,
		events.BookingTopic(bookingID),
		now,
		events.OutreachStartedPayload{
			BookingID: bookingID.String(),
			Contacted: contacted,
			StartedAt: now,
		},
	)
	if err != nil {
		return nil, err
	}

	err = a.repo.CreateRequests(ctx, bookingID, requests, envelope, now)
	if err != nil {
		if errors.Is(err, ErrAlreadyInProgress) {
			active, listErr := a.repo.ActiveByBooking(ctx, bookingID)
			if listErr != nil {
				return nil, listErr
			}
			return &BeginOutreachResult{Status: BeginStatusAlreadyInProgress, Requests: active}, nil
		}
		return nil, err
	}

	result := &BeginOutreachResult{Status: BeginStatusStarted, Requests: requests}
	result.SideEffects = a.openThreads(ctx, requests)

	log.Info().
		Str("booking_id", bookingID.String()).
		Int("contacted", len(requests)).
		Msg("Outreach round started")
	return result, nil
}

// openThreads creates a chat thread per contacted supplier. Failures are
// recorded and logged but never roll the outreach back.
func (a *App) openThreads(ctx context.Context, requests []models.OutreachRequest) []SideEffectFailure {
	if a.threads == nil {
		return nil
	}

	var failures []SideEffectFailure
	for i := range requests {
		req := &requests[i]
		thread, err := a.threads.CreateThread(ctx, req.BookingID, req.SupplierID)
		if err == nil {
			err = a.repo.SetLinkedThread(ctx, req.ID, thread.ID)
			if err == nil {
				req.LinkedThreadID = &thread.ID
				continue
			}
		}
		log.Warn().
			Err(err).
			Str("request_id", req.ID.String()).
			Msg("Failed to open chat thread for outreach request")
		failures = append(failures, SideEffectFailure{
			RequestID: req.ID,
			Op:        "create_thread",
			Err:       err.Error(),
		})
	}
	return failures
}

// Respond applies a candidate's ACCEPT or DECLINE to a specific request.
// Stale preconditions (wrong token, terminal row, lost race) come back as
// OutcomeNotApplicable with nothing mutated.
func (a *App) Respond(ctx context.Context, requestID uuid.UUID, token string, action Action, amount float64) (*RespondResult, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	now := a.clock.Now().UTC()

	switch action {
	case ActionAccept:
		if amount <= 0 {
			return nil, ErrInvalidAmount
		}
		winner, err := a.repo.Accept(ctx, requestID, token, amount, now,
			func(w models.OutreachRequest, expiredSiblings []uuid.UUID) ([]byte, error) {
				siblings := make([]string, 0, len(expiredSiblings))
				for _, sid := range expiredSiblings {
					siblings = append(siblings, sid.String())
				}
				return events.Marshal(
					events.EventTypeOutreachAccepted,
					events.BookingTopic(w.BookingID),
					now,
					events.OutreachAcceptedPayload{
						BookingID:       w.BookingID.String(),
						RequestID:       w.ID.String(),
						SupplierID:      w.SupplierID.String(),
						PublicLabel:     w.PublicLabel,
						AcceptedAmount:  amount,
						RespondedAt:     now,
						ExpiredSiblings: siblings,
					},
				)
			})
		if err != nil {
			if errors.Is(err, ErrNotApplicable) {
				return &RespondResult{Outcome: OutcomeNotApplicable}, nil
			}
			return nil, err
		}
		log.Info().
			Str("booking_id", winner.BookingID.String()).
			Str("request_id", winner.ID.String()).
			Float64("amount", amount).
			Msg("Outreach request accepted")
		return &RespondResult{Outcome: OutcomeAccepted, Request: winner}, nil

	case ActionDecline:
		declined, err := a.repo.Decline(ctx, requestID, token, now,
			func(d models.OutreachRequest) ([]byte, error) {
				return events.Marshal(
					events.EventTypeOutreachDeclined,
					events.BookingTopic(d.BookingID),
					now,
					events.OutreachDeclinedPayload{
						BookingID:   d.BookingID.String(),
						RequestID:   d.ID.String(),
						SupplierID:  d.SupplierID.String(),
						PublicLabel: d.PublicLabel,
						RespondedAt: now,
					},
				)
			})
		if err != nil {
			if errors.Is(err, ErrNotApplicable) {
				return &RespondResult{Outcome: OutcomeNotApplicable}, nil
			}
			return nil, err
		}
		log.Info().
			Str("booking_id", declined.BookingID.String()).
			Str("request_id", declined.ID.String()).
			Msg("Outreach request declined")
		return &RespondResult{Outcome: OutcomeDeclined, Request: declined}, nil

	default:
		return nil, ErrUnknownAction
	}
}

// RespondByCandidate resolves (booking, supplier) to the relevant ledger row
// and applies the response to it. This is the shape the public respond
// endpoint uses; candidates do not know their request ids.
func (a *App) RespondByCandidate(ctx context.Context, bookingID, supplierID uuid.UUID, token string, action Action, amount float64) (*RespondResult, error) {
	req, err := a.repo.LatestByBookingAndSupplier(ctx, bookingID, supplierID)
	if err != nil {
		return nil, err
	}
	return a.Respond(ctx, req.ID, token, action, amount)
}

// MarkExpired force-expires one request. Terminal rows are left untouched.
func (a *App) MarkExpired(ctx context.Context, requestID uuid.UUID) (bool, error) {
	return a.repo.MarkExpired(ctx, requestID, a.clock.Now().UTC())
}

// ActiveRequests lists the booking's open requests.
func (a *App) ActiveRequests(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error) {
	return a.repo.ActiveByBooking(ctx, bookingID)
}

// ListRequests lists every ledger row of a booking, oldest first.
func (a *App) ListRequests(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error) {
	return a.repo.ListByBooking(ctx, bookingID)
}
