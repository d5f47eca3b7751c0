package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/notify"
	"github.com/waterops/licensing-api/internal/service/dispatch"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/metrics"
)

var (
	pollerMetricsOnce sync.Once
	pollerMetrics     *metrics.Metrics
)

func newPollerMetrics() *metrics.Metrics {
	pollerMetricsOnce.Do(func() {
		pollerMetrics = metrics.NewMetrics("test", "worker")
	})
	return pollerMetrics
}

func newPollerLogger() *logger.Logger {
	return logger.NewLogger(nil)
}

type pollerNoticeRepo struct {
	mu      sync.Mutex
	notices map[uuid.UUID]*model.Notice
	updates int
}

func (r *pollerNoticeRepo) Create(_ context.Context, notice *model.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices[notice.ID] = notice
	return nil
}

func (r *pollerNoticeRepo) Get(_ context.Context, id uuid.UUID) (*model.Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notice, ok := r.notices[id]
	if !ok {
		return nil, fmt.Errorf("notice not found")
	}
	copied := *notice
	return &copied, nil
}

func (r *pollerNoticeRepo) List(_ context.Context, _ *model.NoticeFilters) ([]*model.Notice, error) {
	return nil, nil
}

func (r *pollerNoticeRepo) UpdateAggregates(_ context.Context, id uuid.UUID, overall model.OverallStatus, counts model.StatusCounts, metadata model.NoticeMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	notice, ok := r.notices[id]
	if !ok {
		return fmt.Errorf("notice not found")
	}
	notice.OverallStatus = overall
	notice.StatusCounts = counts
	notice.Metadata = metadata
	r.updates++
	return nil
}

type pollerNotificationRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*model.Notification
	batchCalls    int
}

func (r *pollerNotificationRepo) CreateBatch(_ context.Context, _ []*model.Notification) error {
	return nil
}

func (r *pollerNotificationRepo) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification not found")
	}
	return n, nil
}

func (r *pollerNotificationRepo) GetByNotifyID(_ context.Context, _ string) (*model.Notification, error) {
	return nil, fmt.Errorf("notification not found")
}

func (r *pollerNotificationRepo) ListByNotice(_ context.Context, noticeID uuid.UUID) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Notification
	for _, n := range r.notifications {
		if n.EventID == noticeID {
			result = append(result, n)
		}
	}
	return result, nil
}

func (r *pollerNotificationRepo) ListPendingSince(_ context.Context, cutoff time.Time) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Notification
	for _, n := range r.notifications {
		if n.Status == model.NotificationStatusPending && n.NotifyID != nil && !n.CreatedAt.Before(cutoff) {
			result = append(result, n)
		}
	}
	return result, nil
}

func (r *pollerNotificationRepo) ListFailedPrimaryEmails(_ context.Context, _ uuid.UUID) ([]*model.Notification, error) {
	return nil, nil
}

func (r *pollerNotificationRepo) UpdateStatus(_ context.Context, update *model.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(update)
}

func (r *pollerNotificationRepo) UpdateStatusBatch(_ context.Context, updates []*model.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchCalls++
	for _, u := range updates {
		if err := r.apply(u); err != nil {
			return err
		}
	}
	return nil
}

func (r *pollerNotificationRepo) apply(update *model.StatusUpdate) error {
	n, ok := r.notifications[update.ID]
	if !ok {
		return fmt.Errorf("notification not found")
	}
	n.Status = update.Status
	if update.NotifyStatus != nil {
		n.NotifyStatus = update.NotifyStatus
	}
	if update.NotifyError != nil {
		n.NotifyError = update.NotifyError
	}
	return nil
}

func (r *pollerNotificationRepo) MarkAlternateNotice(_ context.Context, _ []uuid.UUID, _ uuid.UUID) error {
	return nil
}

func (r *pollerNotificationRepo) MarkReturned(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}

func (r *pollerNotificationRepo) CountByStatus(_ context.Context, noticeID uuid.UUID) (model.StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts model.StatusCounts
	for _, n := range r.notifications {
		if n.EventID != noticeID {
			continue
		}
		switch n.Status {
		case model.NotificationStatusError:
			counts.Error++
		case model.NotificationStatusPending:
			counts.Pending++
		case model.NotificationStatusReturned:
			counts.Returned++
		case model.NotificationStatusSent:
			counts.Sent++
		case model.NotificationStatusCancelled:
			counts.Cancelled++
		}
	}
	return counts, nil
}

type pollerNotifyClient struct {
	mu       sync.Mutex
	statuses map[string]string
	failures map[string]bool
	checks   int
}

func (c *pollerNotifyClient) SendEmail(_ context.Context, _, _ string, _ notify.SendOptions) notify.Result {
	return notify.Result{StatusCode: 201}
}

func (c *pollerNotifyClient) SendLetter(_ context.Context, _ string, _ notify.SendOptions) notify.Result {
	return notify.Result{StatusCode: 201}
}

func (c *pollerNotifyClient) SendPrecompiledFile(_ context.Context, _ []byte, _ string) notify.Result {
	return notify.Result{StatusCode: 201}
}

func (c *pollerNotifyClient) CheckStatus(_ context.Context, notifyID string) notify.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	if c.failures[notifyID] {
		return notify.Result{StatusCode: 404}
	}
	status, ok := c.statuses[notifyID]
	if !ok {
		status = notify.StatusSending
	}
	result := notify.Result{StatusCode: 200}
	result.Body.ID = notifyID
	result.Body.Status = status
	return result
}

type pollerBroker struct{}

func (pollerBroker) Publish(_ context.Context, _ string, _ interface{}) error { return nil }
func (pollerBroker) Close() error                                             { return nil }

type pollerFixture struct {
	notices       *pollerNoticeRepo
	notifications *pollerNotificationRepo
	client        *pollerNotifyClient
	poller        *StatusPoller
}

func newPollerFixture(config StatusPollerConfig) *pollerFixture {
	f := &pollerFixture{
		notices:       &pollerNoticeRepo{notices: make(map[uuid.UUID]*model.Notice)},
		notifications: &pollerNotificationRepo{notifications: make(map[uuid.UUID]*model.Notification)},
		client: &pollerNotifyClient{
			statuses: make(map[string]string),
			failures: make(map[string]bool),
		},
	}

	checker := dispatch.NewStatusChecker(f.client, newPollerLogger(), newPollerMetrics())
	recorder := dispatch.NewRecorder(f.notifications, pollerBroker{}, newPollerLogger(), newPollerMetrics())
	aggregator := dispatch.NewAggregator(f.notices, f.notifications, nil, newPollerLogger())

	f.poller = NewStatusPoller(f.notifications, checker, recorder, aggregator, config, newPollerLogger(), newPollerMetrics())
	return f
}

func (f *pollerFixture) addNotice() *model.Notice {
	notice := &model.Notice{
		ID:            uuid.New(),
		Type:          model.NoticeTypeNotification,
		Subtype:       model.NoticeSubtypeReturnReminder,
		ReferenceCode: "RREM-POLL01",
		Status:        model.NoticeStatusCompleted,
		OverallStatus: model.OverallStatusPending,
	}
	f.notices.notices[notice.ID] = notice
	return notice
}

func (f *pollerFixture) addPending(noticeID uuid.UUID, notifyID string, createdAt time.Time) *model.Notification {
	recipient := "someone@example.com"
	n := &model.Notification{
		ID:          uuid.New(),
		EventID:     noticeID,
		MessageType: model.MessageTypeEmail,
		MessageRef:  model.MessageRefReturnsInvitationPrimary,
		Recipient:   &recipient,
		Status:      model.NotificationStatusPending,
		NotifyID:    &notifyID,
		CreatedAt:   createdAt,
	}
	f.notifications.notifications[n.ID] = n
	return n
}

func pollerConfig() StatusPollerConfig {
	return StatusPollerConfig{
		BatchSize:         250,
		BatchDelay:        0,
		RequestsPerMinute: 60000,
		RetentionDays:     7,
		PollInterval:      time.Hour,
	}
}

func TestPollerRefreshesPendingAndAggregates(t *testing.T) {
	f := newPollerFixture(pollerConfig())
	notice := f.addNotice()
	delivered := f.addPending(notice.ID, "nid-delivered", time.Now())
	bounced := f.addPending(notice.ID, "nid-bounced", time.Now())

	f.client.statuses["nid-delivered"] = notify.StatusDelivered
	f.client.statuses["nid-bounced"] = notify.StatusPermanentFailure

	f.poller.Run(context.Background())

	assert.Equal(t, model.NotificationStatusSent, f.notifications.notifications[delivered.ID].Status)
	assert.Equal(t, model.NotificationStatusError, f.notifications.notifications[bounced.ID].Status)

	updated, err := f.notices.Get(context.Background(), notice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OverallStatusError, updated.OverallStatus)
	assert.Equal(t, model.StatusCounts{Sent: 1, Error: 1}, updated.StatusCounts)
	assert.Equal(t, 1, updated.Metadata.ErrorCount)
}

func TestPollerSkipsNotificationsOutsideRetentionWindow(t *testing.T) {
	f := newPollerFixture(pollerConfig())
	notice := f.addNotice()
	// Just inside and just outside the 7-day retention window. An exact-cutoff
	// row cannot be pinned down without injecting the clock, so a one-second
	// margin on each side stands in for the boundary.
	recent := f.addPending(notice.ID, "nid-recent", time.Now().AddDate(0, 0, -7).Add(time.Second))
	stale := f.addPending(notice.ID, "nid-stale", time.Now().AddDate(0, 0, -7).Add(-time.Second))

	f.client.statuses["nid-recent"] = notify.StatusDelivered
	f.client.statuses["nid-stale"] = notify.StatusDelivered

	f.poller.Run(context.Background())

	assert.Equal(t, model.NotificationStatusSent, f.notifications.notifications[recent.ID].Status)
	// Outside the provider's retention window there is nothing to ask about.
	assert.Equal(t, model.NotificationStatusPending, f.notifications.notifications[stale.ID].Status)
	assert.Equal(t, 1, f.client.checks)
}

func TestPollerPartitionsIntoBatches(t *testing.T) {
	config := pollerConfig()
	config.BatchSize = 2
	f := newPollerFixture(config)
	notice := f.addNotice()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("nid-%d", i)
		f.addPending(notice.ID, id, time.Now())
		f.client.statuses[id] = notify.StatusDelivered
	}

	f.poller.Run(context.Background())

	// 5 pending at batch size 2 means 3 recorded batches.
	assert.Equal(t, 3, f.notifications.batchCalls)
	for _, n := range f.notifications.notifications {
		assert.Equal(t, model.NotificationStatusSent, n.Status)
	}
}

func TestPollerAggregatesEachNoticeOnce(t *testing.T) {
	f := newPollerFixture(pollerConfig())
	notice := f.addNotice()
	other := f.addNotice()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("nid-a-%d", i)
		f.addPending(notice.ID, id, time.Now())
		f.client.statuses[id] = notify.StatusDelivered
	}
	f.addPending(other.ID, "nid-b", time.Now())
	f.client.statuses["nid-b"] = notify.StatusDelivered

	f.poller.Run(context.Background())

	// Two notices touched in one batch: one aggregate write each.
	assert.Equal(t, 2, f.notices.updates)
}

func TestPollerFailedLookupKeepsStoredStatus(t *testing.T) {
	f := newPollerFixture(pollerConfig())
	notice := f.addNotice()
	reachable := f.addPending(notice.ID, "nid-ok", time.Now())
	unreachable := f.addPending(notice.ID, "nid-gone", time.Now())

	f.client.statuses["nid-ok"] = notify.StatusDelivered
	f.client.failures["nid-gone"] = true

	f.poller.Run(context.Background())

	assert.Equal(t, model.NotificationStatusSent, f.notifications.notifications[reachable.ID].Status)
	assert.Equal(t, model.NotificationStatusPending, f.notifications.notifications[unreachable.ID].Status)
}

func TestNewStatusPollerRejectsInvalidConfig(t *testing.T) {
	config := pollerConfig()
	config.BatchSize = 0
	assert.Panics(t, func() {
		newPollerFixture(config)
	})
}
