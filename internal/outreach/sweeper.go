package outreach

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/internal/events"
	"github.com/stagehand/stagehand/internal/models"
)

// SweeperRepository is the subset of the ledger the sweeper drives.
type SweeperRepository interface {
	ListNudgeable(ctx context.Context, now, windowEnd time.Time) ([]models.OutreachRequest, error)
	MarkNudged(ctx context.Context, id uuid.UUID, now time.Time, topic string, envelope []byte) (bool, error)
	ListDueBookingIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ExpireDueForBooking(ctx context.Context, bookingID uuid.UUID, now time.Time, buildEnvelope func(expired []models.OutreachRequest) ([]byte, error)) ([]models.OutreachRequest, error)
	HasOpenOrAccepted(ctx context.Context, bookingID uuid.UUID) (bool, error)
	ContactedSupplierIDs(ctx context.Context, bookingID uuid.UUID) ([]uuid.UUID, error)
	ReleaseHoldAndFlagUnfulfilled(ctx context.Context, bookingID uuid.UUID, now time.Time, envelope []byte) (bool, error)
}

// Escalator starts the next outreach round after an expiry pass.
type Escalator interface {
	RetryOutreach(ctx context.Context, bookingID uuid.UUID, eventLocale string) (*BeginOutreachResult, error)
}

// SweeperConfig holds the sweeper tunables.
type SweeperConfig struct {
	// Interval is the period between sweep runs.
	Interval time.Duration
	// NudgeLookahead is how far ahead of a deadline a reminder goes out.
	NudgeLookahead time.Duration
	// BatchSize caps how many bookings one expiry pass handles.
	BatchSize int
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:       time.Minute,
		NudgeLookahead: 2 * time.Hour,
		BatchSize:      100,
	}
}

// Sweeper periodically nudges soon-to-expire requests, expires overdue ones,
// and either escalates to the next candidate round or closes the booking out
// when nobody is left.
type Sweeper struct {
	repo      SweeperRepository
	escalator Escalator
	clock     clockwork.Clock
	config    SweeperConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(repo SweeperRepository, escalator Escalator, clock clockwork.Clock, config SweeperConfig) *Sweeper {
	return &Sweeper{
		repo:      repo,
		escalator: escalator,
		clock:     clock,
		config:    config,
	}
}

// Start launches the periodic sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.run(ctx)

	log.Info().
		Dur("interval", s.config.Interval).
		Dur("nudge_lookahead", s.config.NudgeLookahead).
		Msg("Outreach sweeper started")
	return nil
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Outreach sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, err := s.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Sweep run failed")
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one full sweep: reminders first, then expiry and
// escalation. Per-booking failures are logged and skipped so one bad row
// cannot stall the rest of the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.clock.Now().UTC()

	nudged, err := s.nudgePass(ctx, now)
	if err != nil {
		return stats, err
	}
	stats.Nudged = nudged

	if err := s.expirePass(ctx, now, &stats); err != nil {
		return stats, err
	}

	if stats.Nudged > 0 || stats.Expired > 0 || stats.Escalated > 0 || stats.Exhausted > 0 {
		log.Info().
			Int("nudged", stats.Nudged).
			Int("expired", stats.Expired).
			Int("escalated", stats.Escalated).
			Int("exhausted", stats.Exhausted).
			Msg("Sweep completed")
	}
	return stats, nil
}

func (s *Sweeper) nudgePass(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListNudgeable(ctx, now, now.Add(s.config.NudgeLookahead))
	if err != nil {
		return 0, err
	}

	nudged := 0
	for _, req := range due {
		envelope, err := events.Marshal(
			events.EventTypeOutreachReminder,
			events.SupplierTopic(req.SupplierID),
			now,
			events.OutreachReminderPayload{
				BookingID:  req.BookingID.String(),
				RequestID:  req.ID.String(),
				SupplierID: req.SupplierID.String(),
				ExpiresAt:  *req.ExpiresAt,
			},
		)
		if err != nil {
			return nudged, err
		}

		ok, err := s.repo.MarkNudged(ctx, req.ID, now, events.SupplierTopic(req.SupplierID), envelope)
		if err != nil {
			log.Error().Err(err).Str("request_id", req.ID.String()).Msg("Failed to nudge outreach request")
			continue
		}
		if ok {
			nudged++
		}
	}
	return nudged, nil
}

func (s *Sweeper) expirePass(ctx context.Context, now time.Time, stats *SweepStats) error {
	bookingIDs, err := s.repo.ListDueBookingIDs(ctx, now, s.config.BatchSize)
	if err != nil {
		return err
	}

	for _, bookingID := range bookingIDs {
		expired, err := s.repo.ExpireDueForBooking(ctx, bookingID, now,
			func(rows []models.OutreachRequest) ([]byte, error) {
				ids := make([]string, 0, len(rows))
				for _, r := range rows {
					ids = append(ids, r.ID.String())
				}
				return events.Marshal(
					events.EventTypeOutreachExpired,
					events.BookingTopic(bookingID),
					now,
					events.OutreachExpiredPayload{
						BookingID:  bookingID.String(),
						RequestIDs: ids,
						ExpiredAt:  now,
					},
				)
			})
		if err != nil {
			log.Error().Err(err).Str("booking_id", bookingID.String()).Msg("Failed to expire due requests")
			continue
		}
		if len(expired) == 0 {
			// A racing accept closed the round first.
			continue
		}
		stats.Expired += len(expired)

		if err := s.escalate(ctx, bookingID, now, stats); err != nil {
			log.Error().Err(err).Str("booking_id", bookingID.String()).Msg("Failed to escalate booking")
		}
	}
	return nil
}

func (s *Sweeper) escalate(ctx context.Context, bookingID uuid.UUID, now time.Time, stats *SweepStats) error {
	open, err := s.repo.HasOpenOrAccepted(ctx, bookingID)
	if err != nil {
		return err
	}
	if open {
		return nil
	}

	result, err := s.escalator.RetryOutreach(ctx, bookingID, "")
	if err != nil {
		return err
	}

	switch result.Status {
	case BeginStatusStarted:
		stats.Escalated++
		return nil
	case BeginStatusNoCandidates:
		return s.closeOut(ctx, bookingID, now, stats)
	default:
		return nil
	}
}

// closeOut releases the booking's hold and emits the terminal
// no-candidates event once the candidate pool is exhausted.
func (s *Sweeper) closeOut(ctx context.Context, bookingID uuid.UUID, now time.Time, stats *SweepStats) error {
	contacted, err := s.repo.ContactedSupplierIDs(ctx, bookingID)
	if err != nil {
		return err
	}

	envelope, err := events.Marshal(
		events.EventTypeNoCandidatesLeft,
		events.BookingTopic(bookingID),
		now,
		events.NoCandidatesLeftPayload{
			BookingID:      bookingID.String(),
			ContactedCount: len(contacted),
			HoldReleased:   true,
			OccurredAt:     now,
		},
	)
	if err != nil {
		return err
	}

	released, err := s.repo.ReleaseHoldAndFlagUnfulfilled(ctx, bookingID, now, envelope)
	if err != nil {
		return err
	}
	if released {
		stats.Exhausted++
		log.Warn().
			Str("booking_id", bookingID.String()).
			Int("contacted", len(contacted)).
			Msg("Outreach exhausted all candidates, hold released")
	}
	return nil
}
