package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig tunes the LISTEN/NOTIFY fast path.
type ListenerConfig struct {
	DatabaseURL   string
	NotifyChannel string
	PingInterval  time.Duration
	ClaimLease    time.Duration
	BackoffBase   time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "outbox_events",
		PingInterval:  90 * time.Second,
		ClaimLease:    30 * time.Second,
		BackoffBase:   time.Minute,
	}
}

// ListenerStore is what the listener needs from the outbox repository.
type ListenerStore interface {
	FetchPending(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordFailure(ctx context.Context, id uuid.UUID, lastError string, dueAt time.Time) error
}

// Listener cuts delivery latency by reacting to the pg_notify each Enqueue
// emits, instead of waiting for the worker's next poll. It is purely an
// optimization: events it misses (or fails) stay pending and the polling
// worker picks them up.
type Listener struct {
	store     ListenerStore
	listener  *pq.Listener
	publisher Publisher
	cfg       ListenerConfig
}

func NewListener(store ListenerStore, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for outbox notifications")

	return &Listener{
		store:     store,
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// Connection lost; pq reconnects on its own.
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle outbox notification")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// handleNotification publishes the event named in a notification payload.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	event, err := l.store.FetchPending(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			// Another instance beat us to it.
			return nil
		}
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}

	if err := l.publisher.Publish(ctx, event.Topic, event.Payload); err != nil {
		retryAt := time.Now().Add(l.cfg.BackoffBase)
		if recErr := l.store.RecordFailure(ctx, id, err.Error(), retryAt); recErr != nil {
			log.Error().Err(recErr).Str("event_id", id.String()).Msg("failed to record publish failure")
		}
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if err := l.store.MarkDelivered(ctx, id, time.Now()); err != nil {
		return fmt.Errorf("failed to mark event delivered: %w", err)
	}

	log.Debug().Str("event_id", id.String()).Str("topic", event.Topic).Msg("published via notify fast path")
	return nil
}
