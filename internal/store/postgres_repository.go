/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL queries touching the assignments,
 * payments, webhook_events and user_presence tables.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: Domain models used for data transfer.
 *
 * @notes
 * - The webhook mutations (ApplyOrderCreated / ApplyOrderRefunded) run both
 *   writes inside one transaction so a failure can never leave the assignment
 *   flag and the payment row disagreeing.
 * - Presence upserts keep last_seen monotonically non-decreasing even when a
 *   delayed heartbeat lands after a fresher write.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scribelink/assignment-service/internal/domain"
)

var (
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPresenceNotFound   = errors.New("presence record not found")
)

// PostgresRepository is the concrete Repository implementation for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAssignment inserts a new assignment in status `open`.
func (r *PostgresRepository) CreateAssignment(ctx context.Context, a *domain.Assignment) error {
	query := `
		INSERT INTO assignments (id, student_id, title, description, subject, status, budget_cents, currency, deadline, paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		a.ID, a.StudentID, a.Title, a.Description, a.Subject, a.Status, a.BudgetCents, a.Currency, a.Deadline,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// FindAssignmentByID retrieves a single assignment.
func (r *PostgresRepository) FindAssignmentByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	var a domain.Assignment
	query := `
		SELECT id, student_id, writer_id, title, description, subject, status, budget_cents, currency, deadline, paid, payment_date, created_at, updated_at
		FROM assignments WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.StudentID, &a.WriterID, &a.Title, &a.Description, &a.Subject, &a.Status,
		&a.BudgetCents, &a.Currency, &a.Deadline, &a.Paid, &a.PaymentDate, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListAssignments returns assignments matching the filter, newest first.
func (r *PostgresRepository) ListAssignments(ctx context.Context, filter domain.AssignmentFilter) ([]domain.Assignment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT id, student_id, writer_id, title, description, subject, status, budget_cents, currency, deadline, paid, payment_date, created_at, updated_at
		FROM assignments
		WHERE ($1::uuid IS NULL OR student_id = $1)
		  AND ($2::uuid IS NULL OR writer_id = $2)
		  AND ($3::text = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, filter.StudentID, filter.WriterID, filter.Status, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(
			&a.ID, &a.StudentID, &a.WriterID, &a.Title, &a.Description, &a.Subject, &a.Status,
			&a.BudgetCents, &a.Currency, &a.Deadline, &a.Paid, &a.PaymentDate, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// UpdateAssignmentStatus moves an assignment to a new status. A non-nil
// writerID also claims the assignment for that writer.
func (r *PostgresRepository) UpdateAssignmentStatus(ctx context.Context, id uuid.UUID, status string, writerID *uuid.UUID) error {
	query := `
		UPDATE assignments
		SET status = $2, writer_id = COALESCE($3, writer_id), updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, status, writerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// ListPaymentsByAssignment returns all payment rows for an assignment.
func (r *PostgresRepository) ListPaymentsByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]domain.Payment, error) {
	query := `
		SELECT id, assignment_id, amount_cents, currency, status, payment_method, provider_order_id, created_at, updated_at
		FROM payments WHERE assignment_id = $1 ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(
			&p.ID, &p.AssignmentID, &p.AmountCents, &p.Currency, &p.Status,
			&p.PaymentMethod, &p.ProviderOrderID, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ApplyOrderCreated marks the assignment paid and records the payment row in
// one transaction. Redelivered orders update the existing payment row instead
// of inserting a duplicate (unique on assignment_id + provider_order_id).
func (r *PostgresRepository) ApplyOrderCreated(ctx context.Context, p OrderPayment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE assignments SET paid = TRUE, payment_date = $2, updated_at = NOW() WHERE id = $1
	`, p.AssignmentID, p.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, assignment_id, amount_cents, currency, status, payment_method, provider_order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (assignment_id, provider_order_id)
		DO UPDATE SET status = EXCLUDED.status, amount_cents = EXCLUDED.amount_cents, payment_method = EXCLUDED.payment_method, updated_at = NOW()
	`, uuid.New(), p.AssignmentID, p.AmountCents, p.Currency, domain.PaymentStatusCompleted, p.PaymentMethod, p.ProviderOrderID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ApplyOrderRefunded clears the assignment's paid flag and flips the
// correlated payment row to refunded in one transaction. Re-running the same
// refund converges on the same state and is not an error.
func (r *PostgresRepository) ApplyOrderRefunded(ctx context.Context, assignmentID uuid.UUID, providerOrderID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE assignments SET paid = FALSE, payment_date = NULL, updated_at = NOW() WHERE id = $1
	`, assignmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}

	tag, err = tx.Exec(ctx, `
		UPDATE payments SET status = $3, updated_at = NOW()
		WHERE assignment_id = $1 AND provider_order_id = $2
	`, assignmentID, providerOrderID, domain.PaymentStatusRefunded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}

	return tx.Commit(ctx)
}

// RecordWebhookEvent inserts an event id into the processed-event ledger.
// It reports false when the id was already recorded, letting the caller
// short-circuit duplicate deliveries.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, eventID, eventName string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO webhook_events (event_id, event_name, received_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventName)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeWebhookEvents deletes ledger rows received before the cutoff and
// returns how many were removed.
func (r *PostgresRepository) PurgeWebhookEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertPresence writes a presence record keyed on user_id. last_seen never
// moves backwards, so a delayed heartbeat cannot shadow a fresher write.
func (r *PostgresRepository) UpsertPresence(ctx context.Context, rec domain.PresenceRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_presence (user_id, online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET online = EXCLUDED.online, last_seen = GREATEST(user_presence.last_seen, EXCLUDED.last_seen)
	`, rec.UserID, rec.Online, rec.LastSeen)
	return err
}

// GetPresence returns the presence row for a user. A user with no presence
// history yields ErrPresenceNotFound; callers treat that as offline, not as a
// failure.
func (r *PostgresRepository) GetPresence(ctx context.Context, userID uuid.UUID) (*domain.PresenceRecord, error) {
	var rec domain.PresenceRecord
	err := r.db.QueryRow(ctx,
		`SELECT user_id, online, last_seen FROM user_presence WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.Online, &rec.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPresenceNotFound
		}
		return nil, err
	}
	return &rec, nil
}
