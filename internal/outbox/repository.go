package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNotPending is returned when an event does not exist or was already
// delivered.
var ErrNotPending = errors.New("outbox event not found or already delivered")

// Execer is satisfied by *sql.DB and *sql.Tx. Enqueue takes it so the event
// insert joins the caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type Repository struct {
	db            *sql.DB
	notifyChannel string
}

func NewRepository(database *sql.DB, notifyChannel string) *Repository {
	return &Repository{db: database, notifyChannel: notifyChannel}
}

// Enqueue inserts a pending event inside the caller's transaction, so the
// event commits or rolls back together with the state change it reports.
// A pg_notify piggybacks on the same transaction as a delivery fast path.
func (r *Repository) Enqueue(ctx context.Context, ex Execer, topic string, payload []byte, now time.Time) (uuid.UUID, error) {
	id := uuid.New()

	query := `
		INSERT INTO outbox_events (id, topic, payload, created_at, due_at, attempt_count)
		VALUES ($1, $2, $3, $4, $4, 0)
	`
	if _, err := ex.ExecContext(ctx, query, id, topic, payload, now); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue outbox event: %w", err)
	}

	if _, err := ex.ExecContext(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, id.String()); err != nil {
		return uuid.Nil, fmt.Errorf("failed to notify outbox channel: %w", err)
	}

	return id, nil
}

// ClaimDue leases a batch of pending, due events. The lease pushes due_at
// forward so another relay instance claiming concurrently skips these rows;
// SKIP LOCKED keeps the claims disjoint when two claims race.
func (r *Repository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Event, error) {
	query := `
		UPDATE outbox_events
		SET due_at = $3
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE delivered_at IS NULL AND due_at <= $2
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, payload, created_at, due_at, delivered_at, attempt_count, last_error
	`
	now := time.Now()
	rows, err := r.db.QueryContext(ctx, query, limit, now, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim due outbox events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING does not guarantee order; deliver oldest-created first.
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// MarkDelivered sets the delivery flag exactly once. The delivered_at guard
// keeps the flag monotonic.
func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE outbox_events
		SET delivered_at = $2
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark outbox event delivered: %w", err)
	}
	return nil
}

// RecordFailure tracks a failed publish attempt and defers the retry.
func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, lastError string, dueAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET attempt_count = attempt_count + 1, last_error = $2, due_at = $3
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, id, lastError, dueAt); err != nil {
		return fmt.Errorf("failed to record outbox failure: %w", err)
	}
	return nil
}

// FetchPending returns an event by id if it has not been delivered yet.
// Used by the LISTEN/NOTIFY fast path.
func (r *Repository) FetchPending(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `
		SELECT id, topic, payload, created_at, due_at, delivered_at, attempt_count, last_error
		FROM outbox_events
		WHERE id = $1 AND delivered_at IS NULL
	`
	var ev Event
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ev.ID, &ev.Topic, &ev.Payload, &ev.CreatedAt, &ev.DueAt,
		&ev.DeliveredAt, &ev.AttemptCount, &ev.LastError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	return &ev, nil
}

// PendingCount reports how many events still await delivery.
func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE delivered_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return count, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.ID, &ev.Topic, &ev.Payload, &ev.CreatedAt, &ev.DueAt,
			&ev.DeliveredAt, &ev.AttemptCount, &ev.LastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}
