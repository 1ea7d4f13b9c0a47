package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one row of the durable outbox. Only the delivery-tracking fields
// (DeliveredAt, AttemptCount, LastError, DueAt) change after creation.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	Topic        string          `json:"topic"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	DueAt        time.Time       `json:"due_at"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	LastError    *string         `json:"last_error,omitempty"`
}

// Publisher hands a claimed event to the fanout transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Store is what the relay worker needs from the outbox repository.
type Store interface {
	// ClaimDue returns up to limit pending, due events ordered oldest-first
	// and leases them so a concurrent worker instance skips them.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Event, error)

	// MarkDelivered sets delivered_at once; it never un-delivers.
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error

	// RecordFailure increments attempt_count and pushes due_at forward.
	RecordFailure(ctx context.Context, id uuid.UUID, lastError string, dueAt time.Time) error
}
