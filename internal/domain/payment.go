package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment status values. A payment is written as `completed` by the
// order_created webhook and flipped to `refunded` by order_refunded.
const (
	PaymentStatusCompleted = "completed"
	PaymentStatusRefunded  = "refunded"
)

// Payment is the settlement record for an assignment, correlated to the
// payment provider through ProviderOrderID. Maps to the `payments` table.
type Payment struct {
	ID              uuid.UUID `json:"id"`
	AssignmentID    uuid.UUID `json:"assignment_id"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	PaymentMethod   string    `json:"payment_method"`
	ProviderOrderID string    `json:"provider_order_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
