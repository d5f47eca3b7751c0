package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/notify"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/metrics"
)

// StatusChecker queries the provider for the current status of in-flight
// notifications and maps the answers into status updates.
type StatusChecker struct {
	client  notify.Client
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewStatusChecker(client notify.Client, logger *logger.Logger, metrics *metrics.Metrics) *StatusChecker {
	return &StatusChecker{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckBatch looks up every notification concurrently and settles the whole
// batch: a failed lookup is logged and yields no update, so that
// notification keeps its stored status and is retried on the next run. The
// optional limiter throttles outbound calls to the provider's budget.
func (c *StatusChecker) CheckBatch(ctx context.Context, notifications []*model.Notification, limiter *rate.Limiter) []*model.StatusUpdate {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		updates = make([]*model.StatusUpdate, 0, len(notifications))
	)

	for _, notification := range notifications {
		if notification.NotifyID == nil {
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				c.logger.Error(err, "status check cancelled while waiting for rate limiter")
				break
			}
		}

		wg.Add(1)
		go func(n *model.Notification) {
			defer wg.Done()

			update := c.check(ctx, n)
			if update == nil {
				return
			}
			mu.Lock()
			updates = append(updates, update)
			mu.Unlock()
		}(notification)
	}

	wg.Wait()
	return updates
}

func (c *StatusChecker) check(ctx context.Context, notification *model.Notification) *model.StatusUpdate {
	result := c.client.CheckStatus(ctx, *notification.NotifyID)
	if !result.Succeeded() {
		c.metrics.StatusChecksTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("status check failed, will retry next run",
			"notification_id", notification.ID.String(),
			"notify_id", *notification.NotifyID,
			"status_code", result.StatusCode)
		return nil
	}
	c.metrics.StatusChecksTotal.WithLabelValues("success").Inc()

	raw := result.Body.Status
	return &model.StatusUpdate{
		ID:           notification.ID,
		Status:       notify.MapStatus(notification.Channel(), raw),
		NotifyStatus: &raw,
	}
}
