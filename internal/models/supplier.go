package models

import (
	"time"

	"github.com/google/uuid"
)

// Supplier is a service provider that can be contacted as a backup candidate.
type Supplier struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Locale      string    `json:"locale"`
	Category    string    `json:"category"`
	Reliability float64   `json:"reliability"` // 0..1, higher ranks first in fallback selection
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
