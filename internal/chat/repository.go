package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand/stagehand/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(database *sql.DB) *Repository {
	return &Repository{db: database}
}

// CreateThread opens a chat thread between the booking's client and a
// contacted supplier.
func (r *Repository) CreateThread(ctx context.Context, bookingID, supplierID uuid.UUID) (*models.ChatThread, error) {
	query := `
		INSERT INTO chat_threads (id, booking_id, supplier_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, booking_id, supplier_id, created_at
	`
	var t models.ChatThread
	err := r.db.QueryRowContext(ctx, query, uuid.New(), bookingID, supplierID, time.Now()).Scan(
		&t.ID, &t.BookingID, &t.SupplierID, &t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat thread: %w", err)
	}
	return &t, nil
}
