package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	"github.com/waterops/licensing-api/internal/service/dispatch"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/metrics"
)

// StatusPollerConfig holds the poller's tunables. Batch size and the
// inter-batch delay exist because the provider's throttle is externally
// imposed and can change; none of these are hard-coded.
type StatusPollerConfig struct {
	BatchSize         int
	BatchDelay        time.Duration
	RequestsPerMinute int
	RetentionDays     int
	PollInterval      time.Duration
}

// StatusPoller sweeps all still-pending notifications within the provider's
// retention window, refreshes their statuses under the outbound rate budget
// and re-aggregates the touched notices.
type StatusPoller struct {
	notifications repository.NotificationRepository
	checker       *dispatch.StatusChecker
	recorder      *dispatch.Recorder
	aggregator    *dispatch.Aggregator
	config        StatusPollerConfig
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

func NewStatusPoller(
	notifications repository.NotificationRepository,
	checker *dispatch.StatusChecker,
	recorder *dispatch.Recorder,
	aggregator *dispatch.Aggregator,
	config StatusPollerConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *StatusPoller {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.RequestsPerMinute <= 0 {
		panic("RequestsPerMinute must be greater than 0")
	}
	if config.RetentionDays <= 0 {
		panic("RetentionDays must be greater than 0")
	}

	return &StatusPoller{
		notifications: notifications,
		checker:       checker,
		recorder:      recorder,
		aggregator:    aggregator,
		config:        config,
		logger:        logger,
		metrics:       metrics,
	}
}

// Start runs the poller on its schedule until the context is cancelled.
func (p *StatusPoller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("starting notify status poller")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down notify status poller")
			return
		case <-ticker.C:
			p.Run(ctx)
		}
	}
}

// Run executes one full poll sweep. Any error terminates the run without
// re-throwing: each batch's writes are independently committed, so partial
// progress is preserved and the next scheduled run picks up the rest.
func (p *StatusPoller) Run(ctx context.Context) {
	timer := prometheus.NewTimer(p.metrics.PollRunDuration)
	defer timer.ObserveDuration()

	if err := p.run(ctx); err != nil {
		p.logger.Error(err, "notify status poll run failed")
	}
}

func (p *StatusPoller) run(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -p.config.RetentionDays)

	pending, err := p.notifications.ListPendingSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to fetch pending notifications: %w", err)
	}
	p.metrics.PendingNotifications.Set(float64(len(pending)))

	if len(pending) == 0 {
		return nil
	}
	p.logger.Info("polling notify statuses", "pending", len(pending))

	limiter := rate.NewLimiter(rate.Limit(float64(p.config.RequestsPerMinute)/60.0), 1)

	for start := 0; start < len(pending); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		if err := p.processBatch(ctx, pending[start:end], limiter); err != nil {
			return err
		}
		p.metrics.PollBatchesProcessed.Inc()

		if end < len(pending) {
			time.Sleep(p.config.BatchDelay)
		}
	}
	return nil
}

func (p *StatusPoller) processBatch(ctx context.Context, batch []*model.Notification, limiter *rate.Limiter) error {
	updates := p.checker.CheckBatch(ctx, batch, limiter)
	if len(updates) == 0 {
		return nil
	}

	noticeByNotification := make(map[uuid.UUID]uuid.UUID, len(batch))
	for _, n := range batch {
		noticeByNotification[n.ID] = n.EventID
	}

	if err := p.recorder.RecordBatch(ctx, updates, noticeByNotification); err != nil {
		return err
	}

	// Aggregate each touched notice once, not once per notification.
	seen := make(map[uuid.UUID]struct{}, len(updates))
	noticeIDs := make([]uuid.UUID, 0, len(updates))
	for _, update := range updates {
		noticeID := noticeByNotification[update.ID]
		if _, ok := seen[noticeID]; ok {
			continue
		}
		seen[noticeID] = struct{}{}
		noticeIDs = append(noticeIDs, noticeID)
	}

	return p.aggregator.Aggregate(ctx, noticeIDs)
}
