/**
 * @description
 * This file defines the core domain models for the assignment-service.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Monetary amounts are stored as `int64` in the smallest currency unit
 *   (cents) to avoid floating-point inaccuracies.
 * - `Paid` and `PaymentDate` are owned by the payment webhook pipeline and
 *   must never be written by the CRUD endpoints.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Assignment status values. Transitions are validated in the app layer.
const (
	AssignmentStatusOpen      = "open"
	AssignmentStatusClaimed   = "claimed"
	AssignmentStatusSubmitted = "submitted"
	AssignmentStatusCompleted = "completed"
	AssignmentStatusCancelled = "cancelled"
)

// Assignment represents a piece of academic work posted by a student and
// fulfilled by a writer. Maps directly to the `assignments` table.
type Assignment struct {
	ID          uuid.UUID  `json:"id"`
	StudentID   uuid.UUID  `json:"student_id"`
	WriterID    *uuid.UUID `json:"writer_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Subject     string     `json:"subject"`
	Status      string     `json:"status"`
	BudgetCents int64      `json:"budget_cents"`
	Currency    string     `json:"currency"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Paid        bool       `json:"paid"`
	PaymentDate *time.Time `json:"payment_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CreateAssignmentRequest is the DTO for posting a new assignment.
type CreateAssignmentRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Subject     string     `json:"subject"`
	BudgetCents int64      `json:"budget_cents"`
	Currency    string     `json:"currency"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// UpdateAssignmentStatusRequest is the DTO for moving an assignment through
// its lifecycle. The acting user comes from the auth context, not the body.
type UpdateAssignmentStatusRequest struct {
	Status string `json:"status"`
}

// AssignmentFilter narrows assignment listings.
type AssignmentFilter struct {
	StudentID *uuid.UUID
	WriterID  *uuid.UUID
	Status    string
	Limit     int
	Offset    int
}
