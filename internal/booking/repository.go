package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand/stagehand/internal/models"
)

// ErrNotFound is returned when a booking does not exist.
var ErrNotFound = errors.New("booking not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(database *sql.DB) *Repository {
	return &Repository{db: database}
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	query := `
		SELECT id, client_id, event_locale, category, status,
		       confirmed_supplier_id, confirmed_amount, hold_amount, hold_released_at,
		       created_at, updated_at
		FROM bookings
		WHERE id = $1
	`
	var b models.Booking
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.ClientID, &b.EventLocale, &b.Category, &b.Status,
		&b.ConfirmedSupplierID, &b.ConfirmedAmount, &b.HoldAmount, &b.HoldReleasedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// CreateBooking inserts a new booking in PENDING state.
func (r *Repository) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	query := `
		INSERT INTO bookings (id, client_id, event_locale, category, status, hold_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, client_id, event_locale, category, status,
		          confirmed_supplier_id, confirmed_amount, hold_amount, hold_released_at,
		          created_at, updated_at
	`
	now := time.Now()
	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var b models.Booking
	err := r.db.QueryRowContext(ctx, query,
		id, req.ClientID, req.EventLocale, req.Category, models.BookingStatusPending, req.HoldAmount, now,
	).Scan(
		&b.ID, &b.ClientID, &b.EventLocale, &b.Category, &b.Status,
		&b.ConfirmedSupplierID, &b.ConfirmedAmount, &b.HoldAmount, &b.HoldReleasedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}
	return &b, nil
}

// CreateBookingRequest carries the fields needed to open a booking.
type CreateBookingRequest struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	EventLocale string
	Category    string
	HoldAmount  *float64
}
