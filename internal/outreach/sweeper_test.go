package outreach

import (
	"context"
	"testing"
	"time"

	"github.com/stagehand/stagehand/internal/events"
	"github.com/stagehand/stagehand/internal/models"
)

func newSweeper(env *testEnv) *Sweeper {
	cfg := DefaultSweeperConfig()
	cfg.NudgeLookahead = 2 * time.Hour
	return NewSweeper(env.ledger, env.app, env.clock, cfg)
}

func TestSweepNudgesOnlyOnce(t *testing.T) {
	env := newTestEnv(t, supplierNamed("alpha", 0.9))
	sweeper := newSweeper(env)

	env.begin(t)

	// Move inside the nudge window but before the deadline.
	env.clock.Advance(23 * time.Hour)

	stats, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Nudged != 1 {
		t.Fatalf("expected 1 nudge, got %d", stats.Nudged)
	}

	stats, err = sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if stats.Nudged != 0 {
		t.Errorf("request must not be nudged twice, got %d", stats.Nudged)
	}

	types := env.ledger.envelopeTypes()
	reminders := 0
	for _, typ := range types {
		if typ == events.EventTypeOutreachReminder {
			reminders++
		}
	}
	if reminders != 1 {
		t.Errorf("expected exactly one reminder event, got %d", reminders)
	}
}

func TestSweepExpiresAndEscalates(t *testing.T) {
	alpha := supplierNamed("alpha", 0.9)
	beta := supplierNamed("beta", 0.8)
	env := newTestEnv(t, alpha, beta)
	env.app.settings.MaxFanout = 1
	sweeper := newSweeper(env)

	started := env.begin(t)
	if started.Requests[0].SupplierID != alpha.ID {
		t.Fatalf("expected alpha contacted first")
	}

	env.clock.Advance(25 * time.Hour)

	stats, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Expired != 1 {
		t.Errorf("expected 1 expiry, got %d", stats.Expired)
	}
	if stats.Escalated != 1 {
		t.Errorf("expected 1 escalation, got %d", stats.Escalated)
	}

	active, _ := env.ledger.ActiveByBooking(context.Background(), env.booking.ID)
	if len(active) != 1 || active[0].SupplierID != beta.ID {
		t.Fatalf("expected a fresh request to beta after escalation")
	}

	types := env.ledger.envelopeTypes()
	var sawExpired, sawStarted bool
	for _, typ := range types {
		switch typ {
		case events.EventTypeOutreachExpired:
			sawExpired = true
		case events.EventTypeOutreachStarted:
			sawStarted = true
		}
	}
	if !sawExpired || !sawStarted {
		t.Errorf("expected expiry and new-round events, got %v", types)
	}
}

func TestSweepExhaustionReleasesHold(t *testing.T) {
	alpha := supplierNamed("alpha", 0.9)
	env := newTestEnv(t, alpha)
	sweeper := newSweeper(env)

	env.begin(t)
	env.clock.Advance(25 * time.Hour)

	stats, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Expired != 1 {
		t.Errorf("expected 1 expiry, got %d", stats.Expired)
	}
	if stats.Exhausted != 1 {
		t.Errorf("expected the booking closed out, got %d", stats.Exhausted)
	}

	booking, _ := env.ledger.GetBooking(context.Background(), env.booking.ID)
	if booking.Status != models.BookingStatusUnfulfilled {
		t.Errorf("expected UNFULFILLED, got %s", booking.Status)
	}
	if booking.HoldReleasedAt == nil {
		t.Error("expected the hold released")
	}

	types := env.ledger.envelopeTypes()
	closed := 0
	for _, typ := range types {
		if typ == events.EventTypeNoCandidatesLeft {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("expected exactly one no_candidates_left event, got %d", closed)
	}

	// A second sweep finds nothing to do.
	stats, err = sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if stats.Expired != 0 || stats.Exhausted != 0 {
		t.Errorf("expected an idle second sweep, got %+v", stats)
	}
}

func TestSweepSkipsAcceptedBookings(t *testing.T) {
	alpha := supplierNamed("alpha", 0.9)
	beta := supplierNamed("beta", 0.8)
	env := newTestEnv(t, alpha, beta)
	sweeper := newSweeper(env)

	started := env.begin(t)
	winner := started.Requests[0]
	if _, err := env.app.Respond(context.Background(), winner.ID, winner.CapabilityToken, ActionAccept, 300); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	env.clock.Advance(25 * time.Hour)

	stats, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Expired != 0 || stats.Escalated != 0 || stats.Exhausted != 0 {
		t.Errorf("a confirmed booking must be left alone, got %+v", stats)
	}
}
