/**
 * @description
 * Scheduled job implementations for the assignment-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/scribelink/assignment-service/internal/config"
)

// RetentionRepository defines the database operations needed by the jobs.
type RetentionRepository interface {
	PurgeWebhookEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo   RetentionRepository
	logger *slog.Logger
	config config.Config
	now    func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo RetentionRepository, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		repo:   repo,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
}

// PurgeProcessedWebhookEvents removes processed-event ledger rows older than
// the retention window. The ledger only has to cover the provider's
// redelivery horizon; unbounded growth buys nothing.
func (j *Jobs) PurgeProcessedWebhookEvents() {
	j.logger.Info("starting webhook event retention job")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := j.now().Add(-time.Duration(j.config.WebhookEventRetentionHours) * time.Hour)
	purged, err := j.repo.PurgeWebhookEvents(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to purge webhook events", "error", err)
		return
	}

	j.logger.Info("webhook event retention job finished", "purged", purged, "cutoff", cutoff)
}
