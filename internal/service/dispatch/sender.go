package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/notify"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/metrics"
)

var errUnknownChannel = errors.New("unknown dispatch channel")

// Sender dispatches a notice's notifications to the provider one at a time
// and records each outcome immediately. A single failed send never aborts
// the batch.
type Sender struct {
	client   notify.Client
	recorder *Recorder
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewSender(client notify.Client, recorder *Recorder, logger *logger.Logger, metrics *metrics.Metrics) *Sender {
	return &Sender{
		client:   client,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// SendBatch dispatches each notification by channel under the notice's
// reference code. It returns the notifications the provider accepted, i.e.
// those now pending confirmation; rejected ones are recorded as errors and
// excluded since there is nothing to poll for them.
func (s *Sender) SendBatch(ctx context.Context, notifications []*model.Notification, referenceCode string) []*model.Notification {
	sent := make([]*model.Notification, 0, len(notifications))

	for _, notification := range notifications {
		channel := notification.Channel()

		start := time.Now()
		result := s.dispatch(ctx, notification, referenceCode)
		s.metrics.SendLatency.WithLabelValues(channel.String()).Observe(time.Since(start).Seconds())

		update := s.buildUpdate(notification, result)

		if err := s.recorder.Record(ctx, notification.EventID, update); err != nil {
			s.logger.Error(err, "failed to record send result",
				"notification_id", notification.ID.String(),
				"reference_code", referenceCode)
			continue
		}

		// Mirror the persisted fields so callers see current state.
		notification.Status = update.Status
		notification.NotifyID = update.NotifyID
		notification.NotifyStatus = update.NotifyStatus
		notification.NotifyError = update.NotifyError
		if update.Plaintext != nil {
			notification.Plaintext = *update.Plaintext
		}

		if update.Status == model.NotificationStatusPending {
			s.metrics.NotificationsSent.WithLabelValues(channel.String()).Inc()
			sent = append(sent, notification)
		} else {
			s.metrics.NotificationsFailed.WithLabelValues(channel.String()).Inc()
			s.logger.Warn("provider rejected notification",
				"notification_id", notification.ID.String(),
				"channel", channel.String(),
				"reference_code", referenceCode)
		}
	}

	return sent
}

func (s *Sender) dispatch(ctx context.Context, notification *model.Notification, referenceCode string) notify.Result {
	opts := notify.SendOptions{
		Personalisation: notification.Personalisation,
		Reference:       referenceCode,
	}

	switch notification.Channel() {
	case model.ChannelEmail:
		recipient := ""
		if notification.Recipient != nil {
			recipient = *notification.Recipient
		}
		return s.client.SendEmail(ctx, notification.TemplateID, recipient, opts)
	case model.ChannelLetter:
		return s.client.SendLetter(ctx, notification.TemplateID, opts)
	case model.ChannelPrecompiledFile:
		return s.client.SendPrecompiledFile(ctx, notification.PDF, referenceCode)
	default:
		return notify.Result{Err: errUnknownChannel}
	}
}

// buildUpdate is the single place a provider envelope becomes persisted
// fields. Accepted sends start pending with the provider's initial status;
// rejections become errors with the serialized failure detail.
func (s *Sender) buildUpdate(notification *model.Notification, result notify.Result) *model.StatusUpdate {
	update := &model.StatusUpdate{ID: notification.ID}

	if result.Succeeded() {
		raw := notify.StatusCreated
		update.Status = model.NotificationStatusPending
		update.NotifyID = &result.Body.ID
		update.NotifyStatus = &raw
		if result.Body.Content.Body != "" {
			update.Plaintext = &result.Body.Content.Body
		}
		return update
	}

	errJSON := result.ErrorJSON()
	update.Status = model.NotificationStatusError
	update.NotifyError = &errJSON
	return update
}
