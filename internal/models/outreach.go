package models

import (
	"time"

	"github.com/google/uuid"
)

// OutreachStatus defines the state of a single supplier outreach request.
type OutreachStatus string

const (
	OutreachStatusSent     OutreachStatus = "SENT"
	OutreachStatusAccepted OutreachStatus = "ACCEPTED"
	OutreachStatusDeclined OutreachStatus = "DECLINED"
	OutreachStatusExpired  OutreachStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are allowed from s.
// Only SENT rows may move; everything else is final.
func (s OutreachStatus) Terminal() bool {
	return s != OutreachStatusSent
}

// OutreachRequest is one (booking, supplier) row of the outreach ledger.
// Rows are never deleted; terminal rows are kept for audit and idempotency.
type OutreachRequest struct {
	ID              uuid.UUID      `json:"id"`
	BookingID       uuid.UUID      `json:"booking_id"`
	SupplierID      uuid.UUID      `json:"supplier_id"`
	Status          OutreachStatus `json:"status"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"` // nil means no automatic expiry
	RespondedAt     *time.Time     `json:"responded_at,omitempty"`
	NudgedAt        *time.Time     `json:"nudged_at,omitempty"`
	CapabilityToken string         `json:"-"` // single-use secret, required for any transition
	AcceptedAmount  *float64       `json:"accepted_amount,omitempty"` // set only on ACCEPTED
	LinkedThreadID  *uuid.UUID     `json:"linked_thread_id,omitempty"`
	LinkedOfferID   *uuid.UUID     `json:"linked_offer_id,omitempty"`
	PublicLabel     string         `json:"public_label"` // supplier display name snapshot, immutable
	CreatedAt       time.Time      `json:"created_at"`
}
