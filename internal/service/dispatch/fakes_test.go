package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/notify"
	apperrors "github.com/waterops/licensing-api/pkg/errors"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/messaging"
	"github.com/waterops/licensing-api/pkg/metrics"
)

// Shared across the package's tests: promauto registers against the global
// registry, so metrics must be created exactly once per test binary.
var (
	testMetricsOnce sync.Once
	testMetrics     *metrics.Metrics
)

func newTestMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = metrics.NewMetrics("test", "dispatch")
	})
	return testMetrics
}

func newTestLogger() *logger.Logger {
	return logger.NewLogger(nil)
}

type fakeNoticeRepo struct {
	mu      sync.Mutex
	notices map[uuid.UUID]*model.Notice
	updates int
}

func newFakeNoticeRepo(notices ...*model.Notice) *fakeNoticeRepo {
	repo := &fakeNoticeRepo{notices: make(map[uuid.UUID]*model.Notice)}
	for _, n := range notices {
		repo.notices[n.ID] = n
	}
	return repo
}

func (r *fakeNoticeRepo) Create(_ context.Context, notice *model.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	notice.CreatedAt = time.Now()
	notice.UpdatedAt = time.Now()
	r.notices[notice.ID] = notice
	return nil
}

func (r *fakeNoticeRepo) Get(_ context.Context, id uuid.UUID) (*model.Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notice, ok := r.notices[id]
	if !ok {
		return nil, fmt.Errorf("notice not found")
	}
	copied := *notice
	return &copied, nil
}

func (r *fakeNoticeRepo) List(_ context.Context, _ *model.NoticeFilters) ([]*model.Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*model.Notice, 0, len(r.notices))
	for _, n := range r.notices {
		result = append(result, n)
	}
	return result, nil
}

func (r *fakeNoticeRepo) UpdateAggregates(_ context.Context, id uuid.UUID, overall model.OverallStatus, counts model.StatusCounts, metadata model.NoticeMetadata) error {
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

type fakeNotificationRepo struct {
	mu               sync.Mutex
	notifications    map[uuid.UUID]*model.Notification
	getByNotifyIDErr error
}

func newFakeNotificationRepo(notifications ...*model.Notification) *fakeNotificationRepo {
	repo := &fakeNotificationRepo{notifications: make(map[uuid.UUID]*model.Notification)}
	for _, n := range notifications {
		repo.notifications[n.ID] = n
	}
	return repo
}

func (r *fakeNotificationRepo) CreateBatch(_ context.Context, notifications []*model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range notifications {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now()
		}
		r.notifications[n.ID] = n
	}
	return nil
}

func (r *fakeNotificationRepo) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification not found")
	}
	return n, nil
}

func (r *fakeNotificationRepo) GetByNotifyID(_ context.Context, notifyID string) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getByNotifyIDErr != nil {
		return nil, r.getByNotifyIDErr
	}
	for _, n := range r.notifications {
		if n.NotifyID != nil && *n.NotifyID == notifyID {
			return n, nil
		}
	}
	return nil, apperrors.NotFound("notification", nil)
}

func (r *fakeNotificationRepo) ListByNotice(_ context.Context, noticeID uuid.UUID) ([]*model.Notification, error) {
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

func (r *fakeNotificationRepo) ListPendingSince(_ context.Context, cutoff time.Time) ([]*model.Notification, error) {
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

func (r *fakeNotificationRepo) ListFailedPrimaryEmails(_ context.Context, noticeID uuid.UUID) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Notification
	for _, n := range r.notifications {
		if n.EventID == noticeID &&
			n.Status == model.NotificationStatusError &&
			n.MessageType == model.MessageTypeEmail &&
			n.MessageRef == model.MessageRefReturnsInvitationPrimary &&
			n.AlternateNoticeID == nil {
			result = append(result, n)
		}
	}
	return result, nil
}

func (r *fakeNotificationRepo) UpdateStatus(_ context.Context, update *model.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(update)
}

func (r *fakeNotificationRepo) UpdateStatusBatch(_ context.Context, updates []*model.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		if err := r.apply(u); err != nil {
			return err
		}
	}
	return nil
}

// apply mirrors the COALESCE merge semantics of the real repository: nil
// supplied values keep the stored ones.
func (r *fakeNotificationRepo) apply(update *model.StatusUpdate) error {
	n, ok := r.notifications[update.ID]
	if !ok {
		return fmt.Errorf("notification not found")
	}
	n.Status = update.Status
	if update.NotifyID != nil {
		n.NotifyID = update.NotifyID
	}
	if update.NotifyStatus != nil {
		n.NotifyStatus = update.NotifyStatus
	}
	if update.NotifyError != nil {
		n.NotifyError = update.NotifyError
	}
	if update.Plaintext != nil {
		n.Plaintext = *update.Plaintext
	}
	return nil
}

func (r *fakeNotificationRepo) MarkAlternateNotice(_ context.Context, ids []uuid.UUID, alternateNoticeID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if n, ok := r.notifications[id]; ok && n.AlternateNoticeID == nil {
			alt := alternateNoticeID
			n.AlternateNoticeID = &alt
		}
	}
	return nil
}

func (r *fakeNotificationRepo) MarkReturned(_ context.Context, id uuid.UUID, returnedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return fmt.Errorf("notification not found")
	}
	n.Status = model.NotificationStatusReturned
	n.ReturnedAt = &returnedAt
	return nil
}

func (r *fakeNotificationRepo) CountByStatus(_ context.Context, noticeID uuid.UUID) (model.StatusCounts, error) {
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

type fakeContactRepo struct {
	contacts []*model.Contact
}

func (r *fakeContactRepo) ListLicenceHolders(_ context.Context, licenceRefs []string) ([]*model.Contact, error) {
	wanted := make(map[string]bool, len(licenceRefs))
	for _, ref := range licenceRefs {
		wanted[ref] = true
	}
	var result []*model.Contact
	for _, c := range r.contacts {
		if wanted[c.LicenceRef] {
			result = append(result, c)
		}
	}
	return result, nil
}

type fakeBroker struct {
	mu     sync.Mutex
	events []messaging.StatusEvent
}

func (b *fakeBroker) Publish(_ context.Context, _ string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event, ok := message.(messaging.StatusEvent); ok {
		b.events = append(b.events, event)
	}
	return nil
}

func (b *fakeBroker) Close() error { return nil }

type failingBroker struct{}

func (failingBroker) Publish(_ context.Context, _ string, _ interface{}) error {
	return fmt.Errorf("broker unavailable")
}

func (failingBroker) Close() error { return nil }

// fakeClient scripts provider behaviour per recipient / notify id.
type fakeClient struct {
	mu sync.Mutex
	// sendFailures lists recipients (emails) or template ids whose send is
	// rejected by the provider.
	sendFailures map[string]bool
	// statuses maps notify id to the raw status reported on check.
	statuses map[string]string
	// checkErrors lists notify ids whose status lookup fails.
	checkErrors map[string]bool
	sent        int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sendFailures: make(map[string]bool),
		statuses:     make(map[string]string),
		checkErrors:  make(map[string]bool),
	}
}

func (c *fakeClient) SendEmail(_ context.Context, templateID, emailAddress string, _ notify.SendOptions) notify.Result {
	return c.send(emailAddress, templateID)
}

func (c *fakeClient) SendLetter(_ context.Context, templateID string, _ notify.SendOptions) notify.Result {
	return c.send(templateID, templateID)
}

func (c *fakeClient) SendPrecompiledFile(_ context.Context, _ []byte, reference string) notify.Result {
	return c.send(reference, reference)
}

func (c *fakeClient) send(keys ...string) notify.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if c.sendFailures[key] {
			return notify.Result{
				StatusCode: 400,
				Body: notify.Response{
					Errors: []notify.ErrorDetail{{Error: "BadRequestError", Message: "send rejected"}},
				},
			}
		}
	}
	c.sent++
	id := uuid.New().String()
	result := notify.Result{StatusCode: 201}
	result.Body.ID = id
	result.Body.Content.Body = "rendered body"
	return result
}

func (c *fakeClient) CheckStatus(_ context.Context, notifyID string) notify.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkErrors[notifyID] {
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
