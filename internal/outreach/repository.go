package outreach

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/stagehand/stagehand/internal/events"
	"github.com/stagehand/stagehand/internal/models"
	"github.com/stagehand/stagehand/internal/outbox"
)

func bookingTopic(id uuid.UUID) string {
	return events.BookingTopic(id)
}

// lockConflict reports whether err is a Postgres deadlock (40P01) or
// serialization failure (40001). Two accepts racing on siblings of the same
// booking lock rows in opposite orders, so one of them can be aborted this
// way; the survivor has already settled the booking, making the aborted
// response stale rather than failed.
func lockConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

const requestColumns = `
	id, booking_id, supplier_id, status, expires_at, responded_at, nudged_at,
	capability_token, accepted_amount, linked_thread_id, linked_offer_id,
	public_label, created_at
`

// Repository persists the outreach ledger. Every state transition is a
// conditional UPDATE guarded by the current status (and, for responses, the
// capability token), so concurrent accept/expire races resolve to exactly
// one winner: whichever transaction commits first flips the row and the
// loser's guard matches zero rows.
type Repository struct {
	db     *sql.DB
	outbox *outbox.Repository
}

func NewRepository(database *sql.DB, outboxRepo *outbox.Repository) *Repository {
	return &Repository{db: database, outbox: outboxRepo}
}

func (r *Repository) GetRequest(ctx context.Context, id uuid.UUID) (*models.OutreachRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM outreach_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get outreach request: %w", err)
	}
	return req, nil
}

// LatestByBookingAndSupplier resolves the respond endpoint's (booking,
// candidate) pair to a ledger row, preferring an open one.
func (r *Repository) LatestByBookingAndSupplier(ctx context.Context, bookingID, supplierID uuid.UUID) (*models.OutreachRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM outreach_requests
		WHERE booking_id = $1 AND supplier_id = $2
		ORDER BY (status = 'SENT') DESC, created_at DESC
		LIMIT 1
	`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, bookingID, supplierID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get outreach request: %w", err)
	}
	return req, nil
}

// ListByBooking returns every ledger row for a booking, oldest first.
func (r *Repository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM outreach_requests
		WHERE booking_id = $1
		ORDER BY created_at ASC
	`
	return r.queryRequests(ctx, query, bookingID)
}

// ActiveByBooking returns the booking's SENT rows, oldest first.
func (r *Repository) ActiveByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.OutreachRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM outreach_requests
		WHERE booking_id = $1 AND status = 'SENT'
		ORDER BY created_at ASC
	`
	return r.queryRequests(ctx, query, bookingID)
}

// ContactedSupplierIDs returns every supplier ever contacted for a booking,
// regardless of status.
func (r *Repository) ContactedSupplierIDs(ctx context.Context, bookingID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT supplier_id FROM outreach_requests WHERE booking_id = $1`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacted suppliers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan supplier id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate supplier ids: %w", err)
	}
	return ids, nil
}

// HasOpenOrAccepted reports whether the booking has an ACCEPTED row or any
// still-open SENT row.
func (r *Repository) HasOpenOrAccepted(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM outreach_requests
			WHERE booking_id = $1 AND status IN ('SENT', 'ACCEPTED')
		)
	`, bookingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open requests: %w", err)
	}
	return exists, nil
}

// CreateRequests opens an outreach round: it inserts one SENT row per
// candidate, flags the booking awaiting-supplier, and enqueues the started
// event, all in one transaction. The booking row is locked first so two
// concurrent begins serialize; the loser sees the winner's SENT rows and
// gets ErrAlreadyInProgress.
func (r *Repository) CreateRequests(ctx context.Context, bookingID uuid.UUID, requests []models.OutreachRequest, envelope []byte, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedID uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM bookings WHERE id = $1 FOR UPDATE`, bookingID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBookingNotFound
		}
		return fmt.Errorf("failed to lock booking: %w", err)
	}

	var inProgress bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM outreach_requests
			WHERE booking_id = $1 AND status IN ('SENT', 'ACCEPTED')
		)
	`, bookingID).Scan(&inProgress)
	if err != nil {
		return fmt.Errorf("failed to check outreach progress: %w", err)
	}
	if inProgress {
		return ErrAlreadyInProgress
	}

	insert := `
		INSERT INTO outreach_requests (
			id, booking_id, supplier_id, status, expires_at,
			capability_token, public_label, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, req := range requests {
		_, err = tx.ExecContext(ctx, insert,
			req.ID, bookingID, req.SupplierID, models.OutreachStatusSent,
			req.ExpiresAt, req.CapabilityToken, req.PublicLabel, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert outreach request: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`,
		bookingID, models.BookingStatusAwaitingSupplier, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}

	if _, err := r.outbox.Enqueue(ctx, tx, bookingTopic(bookingID), envelope, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Accept promotes one request to ACCEPTED and, in the same transaction,
// expires every sibling still SENT, confirms the booking, and enqueues
// exactly one acceptance event. buildEnvelope runs inside the transaction
// with the winner row and the ids of the siblings that were expired.
//
// The winner UPDATE re-checks status = 'SENT' and the token, so a stale
// token, a terminal row, or a lost race all return ErrNotApplicable with
// nothing mutated.
func (r *Repository) Accept(
	ctx context.Context,
	id uuid.UUID,
	token string,
	amount float64,
	now time.Time,
	buildEnvelope func(winner models.OutreachRequest, expiredSiblings []uuid.UUID) ([]byte, error),
) (*models.OutreachRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	winnerQuery := `
		UPDATE outreach_requests
		SET status = 'ACCEPTED', accepted_amount = $2, responded_at = $3
		WHERE id = $1 AND status = 'SENT' AND capability_token = $4
		RETURNING ` + requestColumns
	winner, err := scanRequest(tx.QueryRowContext(ctx, winnerQuery, id, amount, now, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotApplicable
		}
		return nil, fmt.Errorf("failed to accept outreach request: %w", err)
	}

	siblingRows, err := tx.QueryContext(ctx, `
		UPDATE outreach_requests
		SET status = 'EXPIRED'
		WHERE booking_id = $1 AND id <> $2 AND status = 'SENT'
		RETURNING id
	`, winner.BookingID, winner.ID)
	if err != nil {
		if lockConflict(err) {
			return nil, ErrNotApplicable
		}
		return nil, fmt.Errorf("failed to expire sibling requests: %w", err)
	}
	expired, err := scanIDs(siblingRows)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, confirmed_supplier_id = $3, confirmed_amount = $4, updated_at = $5
		WHERE id = $1
	`, winner.BookingID, models.BookingStatusConfirmed, winner.SupplierID, amount, now)
	if err != nil {
		if lockConflict(err) {
			return nil, ErrNotApplicable
		}
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}

	envelope, err := buildEnvelope(*winner, expired)
	if err != nil {
		return nil, err
	}
	if _, err := r.outbox.Enqueue(ctx, tx, bookingTopic(winner.BookingID), envelope, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if lockConflict(err) {
			return nil, ErrNotApplicable
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return winner, nil
}

// Decline marks a request DECLINED and enqueues the decline event in the
// same transaction. Guarded identically to Accept.
func (r *Repository) Decline(
	ctx context.Context,
	id uuid.UUID,
	token string,
	now time.Time,
	buildEnvelope func(declined models.OutreachRequest) ([]byte, error),
) (*models.OutreachRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE outreach_requests
		SET status = 'DECLINED', responded_at = $2
		WHERE id = $1 AND status = 'SENT' AND capability_token = $3
		RETURNING ` + requestColumns
	declined, err := scanRequest(tx.QueryRowContext(ctx, query, id, now, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotApplicable
		}
		return nil, fmt.Errorf("failed to decline outreach request: %w", err)
	}

	envelope, err := buildEnvelope(*declined)
	if err != nil {
		return nil, err
	}
	if _, err := r.outbox.Enqueue(ctx, tx, bookingTopic(declined.BookingID), envelope, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return declined, nil
}

// MarkExpired transitions SENT -> EXPIRED. Any other current status makes it
// a no-op; redundant calls are safe.
func (r *Repository) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outreach_requests
		SET status = 'EXPIRED'
		WHERE id = $1 AND status = 'SENT'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to expire outreach request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListDueBookingIDs returns bookings that have at least one SENT row past
// its deadline.
func (r *Repository) ListDueBookingIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT booking_id
		FROM outreach_requests
		WHERE status = 'SENT' AND expires_at IS NOT NULL AND expires_at <= $1
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due bookings: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ExpireDueForBooking expires every overdue SENT row of one booking and
// enqueues a single grouped expiry event in the same transaction. Returns
// the rows actually expired; racing accepts shrink that set naturally.
func (r *Repository) ExpireDueForBooking(
	ctx context.Context,
	bookingID uuid.UUID,
	now time.Time,
	buildEnvelope func(expired []models.OutreachRequest) ([]byte, error),
) ([]models.OutreachRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE outreach_requests
		SET status = 'EXPIRED'
		WHERE booking_id = $1 AND status = 'SENT'
		  AND expires_at IS NOT NULL AND expires_at <= $2
		RETURNING `+requestColumns, bookingID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire due requests: %w", err)
	}
	expired, err := collectRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	envelope, err := buildEnvelope(expired)
	if err != nil {
		return nil, err
	}
	if _, err := r.outbox.Enqueue(ctx, tx, bookingTopic(bookingID), envelope, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return expired, nil
}

// ListNudgeable returns SENT rows expiring inside the lookahead window that
// have not been nudged yet.
func (r *Repository) ListNudgeable(ctx context.Context, now, windowEnd time.Time) ([]models.OutreachRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM outreach_requests
		WHERE status = 'SENT' AND nudged_at IS NULL
		  AND expires_at IS NOT NULL AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at ASC
	`
	return r.queryRequests(ctx, query, now, windowEnd)
}

// MarkNudged records the reminder and enqueues it in one transaction. The
// nudged_at guard makes concurrent sweeper runs emit at most one reminder
// per row.
func (r *Repository) MarkNudged(ctx context.Context, id uuid.UUID, now time.Time, topic string, envelope []byte) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE outreach_requests
		SET nudged_at = $2
		WHERE id = $1 AND status = 'SENT' AND nudged_at IS NULL
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark request nudged: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := r.outbox.Enqueue(ctx, tx, topic, envelope, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ReleaseHoldAndFlagUnfulfilled closes out a booking whose outreach
// exhausted every candidate: releases the hold, flags it unfulfilled, and
// enqueues the no-candidates notification in the same transaction. The
// status guard makes repeat calls no-ops.
func (r *Repository) ReleaseHoldAndFlagUnfulfilled(ctx context.Context, bookingID uuid.UUID, now time.Time, envelope []byte) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, hold_released_at = COALESCE(hold_released_at, $3), updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`, bookingID, models.BookingStatusUnfulfilled, now,
		models.BookingStatusPending, models.BookingStatusAwaitingSupplier)
	if err != nil {
		return false, fmt.Errorf("failed to release booking hold: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := r.outbox.Enqueue(ctx, tx, bookingTopic(bookingID), envelope, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// SetLinkedThread back-links the chat thread created for a request.
// Best-effort, called outside the core transaction.
func (r *Repository) SetLinkedThread(ctx context.Context, id, threadID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outreach_requests SET linked_thread_id = $2 WHERE id = $1`,
		id, threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to set linked thread: %w", err)
	}
	return nil
}

func (r *Repository) queryRequests(ctx context.Context, query string, args ...interface{}) ([]models.OutreachRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outreach requests: %w", err)
	}
	return collectRequests(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*models.OutreachRequest, error) {
	var req models.OutreachRequest
	err := row.Scan(
		&req.ID, &req.BookingID, &req.SupplierID, &req.Status,
		&req.ExpiresAt, &req.RespondedAt, &req.NudgedAt,
		&req.CapabilityToken, &req.AcceptedAmount,
		&req.LinkedThreadID, &req.LinkedOfferID,
		&req.PublicLabel, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func collectRequests(rows *sql.Rows) ([]models.OutreachRequest, error) {
	defer rows.Close()

	var requests []models.OutreachRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outreach request: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outreach requests: %w", err)
	}
	return requests, nil
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}
