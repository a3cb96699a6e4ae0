/**
 * @description
 * This file contains the core business logic for the assignment-service. The
 * `Service` struct orchestrates the assignment marketplace lifecycle and the
 * payment webhook pipeline, coordinating between the database repository and
 * the message broker.
 *
 * Key features:
 * - Assignment CRUD with validated status transitions.
 * - Idempotent processing of Lemon Squeezy order events: a processed-event
 *   ledger short-circuits redeliveries before any mutation runs, and the
 *   store applies each order's dual write transactionally.
 * - Publishes payment lifecycle events to RabbitMQ for asynchronous
 *   processing by downstream consumers.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: Broker publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scribelink/assignment-service/internal/domain"
	"github.com/scribelink/assignment-service/internal/store"
	"github.com/scribelink/assignment-service/pkg/rabbitmq"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrNotPermitted            = errors.New("actor not permitted for this transition")
	// ErrEventLedgerUnavailable signals that idempotent webhook processing
	// could not be guaranteed; the handler must not acknowledge the delivery.
	ErrEventLedgerUnavailable = errors.New("webhook event ledger unavailable")
)

// Service provides the core business logic for the assignment marketplace.
type Service struct {
	repo     store.Repository
	producer rabbitmq.Publisher
	exchange string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, exchange string, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		producer: producer,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateAssignment validates and persists a new assignment for a student.
func (s *Service) CreateAssignment(ctx context.Context, studentID uuid.UUID, req domain.CreateAssignmentRequest) (*domain.Assignment, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if req.BudgetCents <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrValidation)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	assignment := &domain.Assignment{
		ID:          uuid.New(),
		StudentID:   studentID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Subject:     strings.TrimSpace(req.Subject),
		Status:      domain.AssignmentStatusOpen,
		BudgetCents: req.BudgetCents,
		Currency:    currency,
		Deadline:    req.Deadline,
	}

	if err := s.repo.CreateAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}
	return assignment, nil
}

// GetAssignment returns a single assignment by id.
func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	return s.repo.FindAssignmentByID(ctx, id)
}

// ListAssignments returns assignments matching the filter.
func (s *Service) ListAssignments(ctx context.Context, filter domain.AssignmentFilter) ([]domain.Assignment, error) {
	return s.repo.ListAssignments(ctx, filter)
}

// ListPayments returns the payment rows recorded for an assignment.
func (s *Service) ListPayments(ctx context.Context, assignmentID uuid.UUID) ([]domain.Payment, error) {
	return s.repo.ListPaymentsByAssignment(ctx, assignmentID)
}

// UpdateAssignmentStatus moves an assignment through its lifecycle on behalf
// of the acting user. Claiming (open -> claimed) records the actor as the
// writer; submitting requires the writer, completing or cancelling requires
// the student.
func (s *Service) UpdateAssignmentStatus(ctx context.Context, actorID, assignmentID uuid.UUID, newStatus string) (*domain.Assignment, error) {
	assignment, err := s.repo.FindAssignmentByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	if !validTransition(assignment.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, assignment.Status, newStatus)
	}

	var claimWriterID *uuid.UUID
	switch newStatus {
	case domain.AssignmentStatusClaimed:
		if actorID == assignment.StudentID {
			return nil, fmt.Errorf("%w: students cannot claim their own assignment", ErrNotPermitted)
		}
		claimWriterID = &actorID
	case domain.AssignmentStatusSubmitted:
		if assignment.WriterID == nil || *assignment.WriterID != actorID {
			return nil, fmt.Errorf("%w: only the claiming writer can submit", ErrNotPermitted)
		}
	case domain.AssignmentStatusCompleted, domain.AssignmentStatusCancelled:
		if actorID != assignment.StudentID {
			return nil, fmt.Errorf("%w: only the student can close out an assignment", ErrNotPermitted)
		}
	}

	if err := s.repo.UpdateAssignmentStatus(ctx, assignmentID, newStatus, claimWriterID); err != nil {
		return nil, err
	}

	assignment.Status = newStatus
	if claimWriterID != nil {
		assignment.WriterID = claimWriterID
	}
	return assignment, nil
}

func validTransition(from, to string) bool {
	switch from {
	case domain.AssignmentStatusOpen:
		return to == domain.AssignmentStatusClaimed || to == domain.AssignmentStatusCancelled
	case domain.AssignmentStatusClaimed:
		return to == domain.AssignmentStatusSubmitted || to == domain.AssignmentStatusCancelled
	case domain.AssignmentStatusSubmitted:
		return to == domain.AssignmentStatusCompleted
	default:
		return false
	}
}

// ProcessWebhookEvent applies a verified payment-provider event. Unknown
// event names are acknowledged no-ops. Known events run through the
// processed-event ledger first, so a redelivered event id short-circuits
// before any mutation. A returned error other than ErrEventLedgerUnavailable
// means a data-layer problem the provider cannot fix by retrying; the caller
// logs it and still acknowledges the delivery.
func (s *Service) ProcessWebhookEvent(ctx context.Context, eventID string, event domain.LemonSqueezyWebhookEvent) error {
	eventName := event.Meta.EventName

	switch eventName {
	case domain.WebhookEventOrderCreated, domain.WebhookEventOrderRefunded:
	default:
		s.logger.Info("ignoring unhandled webhook event", "event_name", eventName)
		return nil
	}

	fresh, err := s.repo.RecordWebhookEvent(ctx, eventID, eventName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEventLedgerUnavailable, err)
	}
	if !fresh {
		s.logger.Info("duplicate webhook event ignored", "event_id", eventID, "event_name", eventName)
		return nil
	}

	rawAssignmentID := event.AssignmentID()
	if rawAssignmentID == "" {
		return fmt.Errorf("webhook event %s carries no assignment id", eventID)
	}
	assignmentID, err := uuid.Parse(rawAssignmentID)
	if err != nil {
		return fmt.Errorf("webhook event %s carries malformed assignment id %q: %w", eventID, rawAssignmentID, err)
	}

	switch eventName {
	case domain.WebhookEventOrderCreated:
		return s.applyOrderCreated(ctx, assignmentID, event)
	default:
		return s.applyOrderRefunded(ctx, assignmentID, event)
	}
}

func (s *Service) applyOrderCreated(ctx context.Context, assignmentID uuid.UUID, event domain.LemonSqueezyWebhookEvent) error {
	payment := store.OrderPayment{
		AssignmentID:    assignmentID,
		AmountCents:     event.Data.Attributes.Total,
		Currency:        strings.ToUpper(event.Data.Attributes.Currency),
		PaymentMethod:   event.PaymentMethod(),
		ProviderOrderID: event.Data.ID,
		PaidAt:          s.now().UTC(),
	}

	if err := s.repo.ApplyOrderCreated(ctx, payment); err != nil {
		return fmt.Errorf("failed to apply order %s: %w", event.Data.ID, err)
	}

	s.logger.Info("order applied", "assignment_id", assignmentID, "provider_order_id", event.Data.ID, "amount_cents", payment.AmountCents)
	s.publishPaymentEvent(ctx, domain.RoutingKeyPaymentCompleted, assignmentID, payment.ProviderOrderID, payment.AmountCents, payment.Currency, domain.PaymentStatusCompleted)
	return nil
}

func (s *Service) applyOrderRefunded(ctx context.Context, assignmentID uuid.UUID, event domain.LemonSqueezyWebhookEvent) error {
	if err := s.repo.ApplyOrderRefunded(ctx, assignmentID, event.Data.ID); err != nil {
		return fmt.Errorf("failed to apply refund for order %s: %w", event.Data.ID, err)
	}

	s.logger.Info("refund applied", "assignment_id", assignmentID, "provider_order_id", event.Data.ID)
	s.publishPaymentEvent(ctx, domain.RoutingKeyPaymentRefunded, assignmentID, event.Data.ID, event.Data.Attributes.Total, strings.ToUpper(event.Data.Attributes.Currency), domain.PaymentStatusRefunded)
	return nil
}

// publishPaymentEvent notifies downstream consumers after a committed
// mutation. Publish failures are logged only: the database is the source of
// truth and the provider has already been acknowledged.
func (s *Service) publishPaymentEvent(ctx context.Context, routingKey string, assignmentID uuid.UUID, orderID string, amount int64, currency, status string) {
	event := domain.PaymentLifecycleEvent{
		AssignmentID:    assignmentID,
		ProviderOrderID: orderID,
		AmountCents:     amount,
		Currency:        currency,
		Status:          status,
		Timestamp:       s.now().UTC(),
	}
	if err := s.producer.Publish(ctx, s.exchange, routingKey, event); err != nil {
		s.logger.Warn("payment event publish failed", "routing_key", routingKey, "assignment_id", assignmentID, "err", err)
	}
}
