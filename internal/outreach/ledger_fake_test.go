package outreach

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand/stagehand/internal/events"
	"github.com/stagehand/stagehand/internal/models"
)

// fakeLedger mirrors the repository's guard semantics in memory so the app
// and sweeper can be tested without Postgres.
type fakeLedger struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*models.Booking
	requests  map[uuid.UUID]*models.OutreachRequest
	order     []uuid.UUID
	envelopes []fakeEnvelope

	failSetLinkedThread bool
}

type fakeEnvelope struct {
	Topic string
	Data  []byte
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		bookings: make(map[uuid.UUID]*models.Booking),
		requests: make(map[uuid.UUID]*models.OutreachRequest),
	}
}

func (f *fakeLedger) addBooking(b *models.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = b
}

func (f *fakeLedger) envelopeTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]events.EventType, 0, len(f.envelopes))
	for _, e := range f.envelopes {
		env, err := events.Unmarshal(e.Data)
		if err != nil {
			continue
		}
		types = append(types, env.Type)
	}
	return types
}

func (f *fakeLedger) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	copied := *b
	return &copied, nil
}

func (f *fakeLedger) GetRequest(ctx context.Context, id uuid.UUID) (*models.OutreachRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	copied := *req
	return &copied, nil
}

func (f *fakeLedger) LatestByBookingAndSupplier(ctx context.Context, bookingID, supplierID uuid.UUID) (*models.OutreachRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *models.OutreachRequest
	for _, id := range f.order {
		req := f.requests[id]
		if req.BookingID != bookingID || req.SupplierID != supplierID {
			continue
		}
		if found == nil || req.Status == models.OutreachStatusSent {
			found = req
		}
	}
	if found == nil {
		return nil, ErrRequestNotFound
	}
	copied := *found
	return &copied, nil
}

func (f *fakeLedger) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OutreachRequest
	for _, id := range f.order {
		if req := f.requests[id]; req.BookingID == bookingID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeLedger) ActiveByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OutreachRequest
	for _, id := range f.order {
		req := f.requests[id]
		if req.BookingID == bookingID && req.Status == models.OutreachStatusSent {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeLedger) ContactedSupplierIDs(ctx context.Context, bookingID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, id := range f.order {
		req := f.requests[id]
		if req.BookingID == bookingID && !seen[req.SupplierID] {
			seen[req.SupplierID] = true
			ids = append(ids, req.SupplierID)
		}
	}
	return ids, nil
}

func (f *fakeLedger) HasOpenOrAccepted(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasOpenOrAcceptedLocked(bookingID), nil
}

func (f *fakeLedger) hasOpenOrAcceptedLocked(bookingID uuid.UUID) bool {
	for _, req := range f.requests {
		if req.BookingID == bookingID &&
			(req.Status == models.OutreachStatusSent || req.Status == models.OutreachStatusAccepted) {
			return true
		}
	}
	return false
}

func (f *fakeLedger) CreateRequests(ctx context.Context, bookingID uuid.UUID, requests []models.OutreachRequest, envelope []byte, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[bookingID]
	if !ok {
		return ErrBookingNotFound
	}
	if f.hasOpenOrAcceptedLocked(bookingID) {
		return ErrAlreadyInProgress
	}
	for i := range requests {
		req := requests[i]
		f.requests[req.ID] = &req
		f.order = append(f.order, req.ID)
	}
	booking.Status = models.BookingStatusAwaitingSupplier
	f.envelopes = append(f.envelopes, fakeEnvelope{Topic: events.BookingTopic(bookingID), Data: envelope})
	return nil
}

func (f *fakeLedger) Accept(ctx context.Context, id uuid.UUID, token string, amount float64, now time.Time, buildEnvelope func(winner models.OutreachRequest, expiredSiblings []uuid.UUID) ([]byte, error)) (*models.OutreachRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != models.OutreachStatusSent || req.CapabilityToken != token {
		return nil, ErrNotApplicable
	}

	req.Status = models.OutreachStatusAccepted
	req.AcceptedAmount = &amount
	respondedAt := now
	req.RespondedAt = &respondedAt

	var expired []uuid.UUID
	for _, otherID := range f.order {
		other := f.requests[otherID]
		if other.BookingID == req.BookingID && other.ID != req.ID && other.Status == models.OutreachStatusSent {
			other.Status = models.OutreachStatusExpired
			expired = append(expired, other.ID)
		}
	}

	if booking, ok := f.bookings[req.BookingID]; ok {
		booking.Status = models.BookingStatusConfirmed
		booking.ConfirmedSupplierID = &req.SupplierID
		booking.ConfirmedAmount = &amount
	}

	envelope, err := buildEnvelope(*req, expired)
	if err != nil {
		return nil, err
	}
	f.envelopes = append(f.envelopes, fakeEnvelope{Topic: events.BookingTopic(req.BookingID), Data: envelope})

	copied := *req
	return &copied, nil
}

func (f *fakeLedger) Decline(ctx context.Context, id uuid.UUID, token string, now time.Time, buildEnvelope func(declined models.OutreachRequest) ([]byte, error)) (*models.OutreachRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != models.OutreachStatusSent || req.CapabilityToken != token {
		return nil, ErrNotApplicable
	}
	req.Status = models.OutreachStatusDeclined
	respondedAt := now
	req.RespondedAt = &respondedAt

	envelope, err := buildEnvelope(*req)
	if err != nil {
		return nil, err
	}
	f.envelopes = append(f.envelopes, fakeEnvelope{Topic: events.BookingTopic(req.BookingID), Data: envelope})

	copied := *req
	return &copied, nil
}

func (f *fakeLedger) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != models.OutreachStatusSent {
		return false, nil
	}
	req.Status = models.OutreachStatusExpired
	return true, nil
}

func (f *fakeLedger) SetLinkedThread(ctx context.Context, id, threadID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetLinkedThread {
		return errLinkFailed
	}
	if req, ok := f.requests[id]; ok {
		req.LinkedThreadID = &threadID
	}
	return nil
}

func (f *fakeLedger) ListNudgeable(ctx context.Context, now, windowEnd time.Time) ([]models.OutreachRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OutreachRequest
	for _, id := range f.order {
		req := f.requests[id]
		if req.Status != models.OutreachStatusSent || req.NudgedAt != nil || req.ExpiresAt == nil {
			continue
		}
		if req.ExpiresAt.After(now) && !req.ExpiresAt.After(windowEnd) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeLedger) MarkNudged(ctx context.Context, id uuid.UUID, now time.Time, topic string, envelope []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != models.OutreachStatusSent || req.NudgedAt != nil {
		return false, nil
	}
	nudgedAt := now
	req.NudgedAt = &nudgedAt
	f.envelopes = append(f.envelopes, fakeEnvelope{Topic: topic, Data: envelope})
	return true, nil
}

func (f *fakeLedger) ListDueBookingIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, id := range f.order {
		req := f.requests[id]
		if req.Status != models.OutreachStatusSent || req.ExpiresAt == nil || req.ExpiresAt.After(now) {
			continue
		}
		if !seen[req.BookingID] {
			seen[req.BookingID] = true
			ids = append(ids, req.BookingID)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *fakeLedger) ExpireDueForBooking(ctx context.Context, bookingID uuid.UUID, now time.Time, buildEnvelope func(expired []models.OutreachRequest) ([]byte, error)) ([]models.OutreachRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired []models.OutreachRequest
	for _, id := range f.order {
		req := f.requests[id]
		if req.BookingID != bookingID || req.Status != models.OutreachStatusSent {
			continue
		}
		if req.ExpiresAt == nil || req.ExpiresAt.After(now) {
			continue
		}
		req.Status = models.OutreachStatusExpired
		expired = append(expired, *req)
	}
	if len(expired) == 0 {
		return nil, nil
	}
	envelope, err := buildEnvelope(expired)
	if err != nil {
		return nil, err
	}
	f.envelopes = append(f.envelopes, fakeEnvelope{Topic: events.BookingTopic(bookingID), Data: envelope})
	return expired, nil
}

func (f *fakeLedger) ReleaseHoldAndFlagUnfulfilled(ctx context.Context, bookingID uuid.UUID, now time.Time, envelope []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	booking, ok := f.bookings[bookingID]
	if !ok {
		return false, nil
	}
	if booking.Status != models.BookingStatusPending && booking.Status != models.BookingStatusAwaitingSupplier {
		return false, nil
	}
	booking.Status = models.BookingStatusUnfulfilled
	releasedAt := now
	booking.HoldReleasedAt = &releasedAt
	f.envelopes = append(f.envelopes, fakeEnvelope{Topic: events.BookingTopic(bookingID), Data: envelope})
	return true, nil
}
