package events

import (
	"time"
)

// Payload types shared between the outreach, outbox and gateway packages.

// ContactedSupplier describes one outreach request inside an
// OutreachStarted payload.
type ContactedSupplier struct {
	RequestID   string     `json:"request_id"`
	SupplierID  string     `json:"supplier_id"`
	PublicLabel string     `json:"public_label"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// OutreachStartedPayload is emitted when backup suppliers are contacted for
// a booking.
type OutreachStartedPayload struct {
	BookingID string              `json:"booking_id"`
	Contacted []ContactedSupplier `json:"contacted"`
	StartedAt time.Time           `json:"started_at"`
}

// OutreachAcceptedPayload is emitted when one supplier wins a booking.
// ExpiredSiblings lists the other still-open requests that were closed in
// the same transaction.
type OutreachAcceptedPayload struct {
	BookingID       string    `json:"booking_id"`
	RequestID       string    `json:"request_id"`
	SupplierID      string    `json:"supplier_id"`
	PublicLabel     string    `json:"public_label"`
	AcceptedAmount  float64   `json:"accepted_amount"`
	RespondedAt     time.Time `json:"responded_at"`
	ExpiredSiblings []string  `json:"expired_siblings,omitempty"`
}

// OutreachDeclinedPayload is emitted when a supplier declines.
type OutreachDeclinedPayload struct {
	BookingID   string    `json:"booking_id"`
	RequestID   string    `json:"request_id"`
	SupplierID  string    `json:"supplier_id"`
	PublicLabel string    `json:"public_label"`
	RespondedAt time.Time `json:"responded_at"`
}

// OutreachExpiredPayload is emitted by the sweeper when outstanding requests
// for a booking pass their deadline. One payload covers every request of the
// booking expired in that sweep.
type OutreachExpiredPayload struct {
	BookingID  string    `json:"booking_id"`
	RequestIDs []string  `json:"request_ids"`
	ExpiredAt  time.Time `json:"expired_at"`
}

// OutreachReminderPayload nudges a supplier whose request is about to expire.
type OutreachReminderPayload struct {
	BookingID  string    `json:"booking_id"`
	RequestID  string    `json:"request_id"`
	SupplierID string    `json:"supplier_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NoCandidatesLeftPayload signals that outreach exhausted every candidate
// for a booking and the reserved hold was released.
type NoCandidatesLeftPayload struct {
	BookingID      string    `json:"booking_id"`
	ContactedCount int       `json:"contacted_count"`
	HoldReleased   bool      `json:"hold_released"`
	OccurredAt     time.Time `json:"occurred_at"`
}
