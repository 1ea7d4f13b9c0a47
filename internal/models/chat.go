package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatThread is the conversation created as a side effect of contacting a
// supplier. Thread creation is best-effort and never blocks a ledger
// transition.
type ChatThread struct {
	ID         uuid.UUID `json:"id"`
	BookingID  uuid.UUID `json:"booking_id"`
	SupplierID uuid.UUID `json:"supplier_id"`
	CreatedAt  time.Time `json:"created_at"`
}
