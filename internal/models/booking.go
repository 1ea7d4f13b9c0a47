package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus defines the aggregate state of a booking.
type BookingStatus string

const (
	BookingStatusPending          BookingStatus = "PENDING"
	BookingStatusAwaitingSupplier BookingStatus = "AWAITING_SUPPLIER"
	BookingStatusConfirmed        BookingStatus = "CONFIRMED"
	BookingStatusUnfulfilled      BookingStatus = "UNFULFILLED"
)

// Booking represents a client booking that outreach runs against.
type Booking struct {
	ID                  uuid.UUID     `json:"id"`
	ClientID            uuid.UUID     `json:"client_id"`
	EventLocale         string        `json:"event_locale"`
	Category            string        `json:"category"`
	Status              BookingStatus `json:"status"`
	ConfirmedSupplierID *uuid.UUID    `json:"confirmed_supplier_id,omitempty"`
	ConfirmedAmount     *float64      `json:"confirmed_amount,omitempty"`
	HoldAmount          *float64      `json:"hold_amount,omitempty"` // reserved funds, released if outreach exhausts
	HoldReleasedAt      *time.Time    `json:"hold_released_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}
