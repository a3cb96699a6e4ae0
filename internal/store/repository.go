/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the assignment-service. The
 * interface decouples the business logic from the PostgreSQL implementation
 * and lets the app layer be tested against stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scribelink/assignment-service/internal/domain"
)

// OrderPayment carries the fields written when an order_created event is
// applied to an assignment.
type OrderPayment struct {
	AssignmentID    uuid.UUID
	AmountCents     int64
	Currency        string
	PaymentMethod   string
	ProviderOrderID string
	PaidAt          time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Assignment methods
	CreateAssignment(ctx context.Context, a *domain.Assignment) error
	FindAssignmentByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error)
	ListAssignments(ctx context.Context, filter domain.AssignmentFilter) ([]domain.Assignment, error)
	UpdateAssignmentStatus(ctx context.Context, id uuid.UUID, status string, writerID *uuid.UUID) error

	// Payment methods
	ListPaymentsByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]domain.Payment, error)

	// Webhook mutations. Both run the assignment update and the payment write
	// inside a single database transaction.
	ApplyOrderCreated(ctx context.Context, p OrderPayment) error
	ApplyOrderRefunded(ctx context.Context, assignmentID uuid.UUID, providerOrderID string) error

	// Processed-event ledger for idempotent webhook redelivery handling.
	// RecordWebhookEvent reports false when the event id was already recorded.
	RecordWebhookEvent(ctx context.Context, eventID, eventName string) (bool, error)
	PurgeWebhookEvents(ctx context.Context, olderThan time.Time) (int64, error)

	// Presence methods
	UpsertPresence(ctx context.Context, rec domain.PresenceRecord) error
	GetPresence(ctx context.Context, userID uuid.UUID) (*domain.PresenceRecord, error)
}
