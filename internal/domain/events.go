package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published to the events exchange.
const (
	RoutingKeyPaymentCompleted = "payment.completed"
	RoutingKeyPaymentRefunded  = "payment.refunded"
	// RoutingKeyPresencePrefix is suffixed with the user id, so observers can
	// bind to a single user's feed (presence.updated.<user_id>).
	RoutingKeyPresencePrefix = "presence.updated."
)

// PaymentLifecycleEvent is the internal event published after a webhook
// mutation has been committed, consumed by downstream services (email
// notifications, analytics).
type PaymentLifecycleEvent struct {
	AssignmentID    uuid.UUID `json:"assignment_id"`
	ProviderOrderID string    `json:"provider_order_id"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}
