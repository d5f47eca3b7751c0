package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/messaging"
	"github.com/waterops/licensing-api/pkg/metrics"
)

// Recorder persists notification outcomes. Writes touch only the
// status-relevant columns and are idempotent, so overlapping poll runs and
// the synchronous send path cannot corrupt each other. The recorder never
// triggers notice-level aggregation; that is an explicit separate step.
type Recorder struct {
	repo    repository.NotificationRepository
	broker  messaging.Broker
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewRecorder(repo repository.NotificationRepository, broker messaging.Broker, logger *logger.Logger, metrics *metrics.Metrics) *Recorder {
	return &Recorder{
		repo:    repo,
		broker:  broker,
		logger:  logger,
		metrics: metrics,
	}
}

// Record persists a single notification outcome.
func (r *Recorder) Record(ctx context.Context, noticeID uuid.UUID, update *model.StatusUpdate) error {
	if err := r.repo.UpdateStatus(ctx, update); err != nil {
		r.metrics.DatabaseOperations.WithLabelValues("update_status", "error").Inc()
		return fmt.Errorf("failed to record notification result: %w", err)
	}
	r.metrics.DatabaseOperations.WithLabelValues("update_status", "success").Inc()

	r.publish(ctx, noticeID, update)
	return nil
}

// RecordBatch persists a batch of outcomes in one statement. Used by the
// status poller, where per-row round trips would dominate the run.
func (r *Recorder) RecordBatch(ctx context.Context, updates []*model.StatusUpdate, noticeIDs map[uuid.UUID]uuid.UUID) error {
	if len(updates) == 0 {
		return nil
	}

	if err := r.repo.UpdateStatusBatch(ctx, updates); err != nil {
		r.metrics.DatabaseOperations.WithLabelValues("update_status_batch", "error").Inc()
		return fmt.Errorf("failed to record notification results: %w", err)
	}
	r.metrics.DatabaseOperations.WithLabelValues("update_status_batch", "success").Inc()

	for _, update := range updates {
		r.publish(ctx, noticeIDs[update.ID], update)
	}
	return nil
}

// publish emits a status-transition event. Broker failures are logged and
// swallowed: the database row is the source of truth, events are advisory.
func (r *Recorder) publish(ctx context.Context, noticeID uuid.UUID, update *model.StatusUpdate) {
	event := messaging.StatusEvent{
		NotificationID: update.ID,
		NoticeID:       noticeID,
		Status:         update.Status,
	}
	if update.NotifyStatus != nil {
		event.NotifyStatus = *update.NotifyStatus
	}

	if err := r.broker.Publish(ctx, messaging.ChannelNotificationStatus, event); err != nil {
		r.metrics.PublishFailures.Inc()
		r.logger.Error(err, "failed to publish status event",
			"notification_id", update.ID.String())
		return
	}
	r.metrics.EventsPublished.WithLabelValues(messaging.ChannelNotificationStatus).Inc()
}
