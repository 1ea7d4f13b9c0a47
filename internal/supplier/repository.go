package supplier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stagehand/stagehand/internal/models"
)

// ErrNotFound is returned when a supplier does not exist.
var ErrNotFound = errors.New("supplier not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(database *sql.DB) *Repository {
	return &Repository{db: database}
}

func (r *Repository) GetSupplier(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	query := `
		SELECT id, name, locale, category, reliability, active, created_at
		FROM suppliers
		WHERE id = $1
	`
	var s models.Supplier
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.Name, &s.Locale, &s.Category, &s.Reliability, &s.Active, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get supplier: %w", err)
	}
	return &s, nil
}

// PreferredCandidates returns the curated preference list for a locale and
// category, in list order. Empty when no list is configured.
func (r *Repository) PreferredCandidates(ctx context.Context, locale, category string) ([]models.Supplier, error) {
	query := `
		SELECT s.id, s.name, s.locale, s.category, s.reliability, s.active, s.created_at
		FROM preferred_suppliers p
		JOIN suppliers s ON s.id = p.supplier_id
		WHERE p.locale = $1 AND p.category = $2 AND s.active
		ORDER BY p.position ASC
	`
	return r.querySuppliers(ctx, query, locale, category)
}

// FallbackCandidates returns active suppliers matching the category, local
// suppliers first. Final ordering is the selector's job.
func (r *Repository) FallbackCandidates(ctx context.Context, locale, category string) ([]models.Supplier, error) {
	query := `
		SELECT id, name, locale, category, reliability, active, created_at
		FROM suppliers
		WHERE category = $2 AND active
		ORDER BY (locale = $1) DESC, reliability DESC
	`
	return r.querySuppliers(ctx, query, locale, category)
}

func (r *Repository) querySuppliers(ctx context.Context, query string, args ...interface{}) ([]models.Supplier, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []models.Supplier
	for rows.Next() {
		var s models.Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.Locale, &s.Category, &s.Reliability, &s.Active, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suppliers: %w", err)
	}
	return suppliers, nil
}
