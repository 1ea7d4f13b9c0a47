package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config tunes the relay worker loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// ClaimLease defers a claimed event's due_at so concurrent relay
	// instances skip it while this one publishes.
	ClaimLease time.Duration
	// BackoffBase and BackoffMax bound the exponential retry delay. The
	// base must exceed the claim lease so a failed attempt always pushes
	// due_at strictly forward.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		BatchSize:    100,
		ClaimLease:   30 * time.Second,
		BackoffBase:  time.Minute,
		BackoffMax:   time.Hour,
	}
}

// Worker is the relay loop: it repeatedly claims pending, due outbox events
// and republishes them to the fanout bus. Crashing between claim and
// delivery leaves the row pending, so a later run (or another instance)
// retries it; consumers must tolerate duplicates.
type Worker struct {
	store     Store
	publisher Publisher
	config    Config
	clock     clockwork.Clock

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(store Store, publisher Publisher, cfg Config) *Worker {
	return &Worker{
		store:     store,
		publisher: publisher,
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		stopChan:  make(chan struct{}),
	}
}

// NewWorkerWithClock is NewWorker with an injected clock for tests.
func NewWorkerWithClock(store Store, publisher Publisher, cfg Config, clock clockwork.Clock) *Worker {
	w := NewWorker(store, publisher, cfg)
	w.clock = clock
	return w
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("relay worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int("batch_size", w.config.BatchSize).
		Msg("relay worker started")

	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("relay worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Msg("relay worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Drain whatever queued up before this instance started.
	w.ProcessBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.Chan():
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims one batch of due events and attempts delivery.
// It returns how many events were delivered and how many failed.
func (w *Worker) ProcessBatch(ctx context.Context) (delivered, failed int) {
	events, err := w.store.ClaimDue(ctx, w.config.BatchSize, w.config.ClaimLease)
	if err != nil {
		log.Error().Err(err).Msg("failed to claim due events")
		return 0, 0
	}
	if len(events) == 0 {
		return 0, 0
	}

	log.Debug().Int("count", len(events)).Msg("processing outbox events")

	for _, event := range events {
		if err := w.publisher.Publish(ctx, event.Topic, event.Payload); err != nil {
			failed++
			retryAt := w.clock.Now().Add(w.backoff(event.AttemptCount))
			log.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("topic", event.Topic).
				Int("attempt", event.AttemptCount+1).
				Time("retry_at", retryAt).
				Msg("failed to publish event")
			if err := w.store.RecordFailure(ctx, event.ID, err.Error(), retryAt); err != nil {
				log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to record publish failure")
			}
			continue
		}

		if err := w.store.MarkDelivered(ctx, event.ID, w.clock.Now()); err != nil {
			// The publish went out; the row stays pending and will be
			// republished. Duplicate delivery is the accepted trade.
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to mark event delivered")
			failed++
			continue
		}
		delivered++
	}

	log.Info().
		Int("total", len(events)).
		Int("delivered", delivered).
		Int("failed", failed).
		Msg("processed outbox events")

	return delivered, failed
}

// backoff returns the retry delay for the given completed attempt count,
// doubling per attempt up to the configured ceiling.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.config.BackoffBase
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= w.config.BackoffMax {
			return w.config.BackoffMax
		}
	}
	return d
}
