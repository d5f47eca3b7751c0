package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waterops/licensing-api/internal/model"
)

func buildNotice(subtype string) *model.Notice {
	return &model.Notice{
		ID:            uuid.New(),
		Type:          model.NoticeTypeNotification,
		Subtype:       subtype,
		ReferenceCode: "RINV-AGG001",
		Issuer:        "issuer@example.gov.uk",
		Status:        model.NoticeStatusCompleted,
		OverallStatus: model.OverallStatusPending,
	}
}

func withStatus(noticeID uuid.UUID, status model.NotificationStatus) *model.Notification {
	n := buildEmailNotification(noticeID, "someone@example.com")
	n.Status = status
	return n
}

func TestOverallStatusPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		counts model.StatusCounts
		want   model.OverallStatus
	}{
		{"all sent", model.StatusCounts{Sent: 2}, model.OverallStatusSent},
		{"pending beats sent", model.StatusCounts{Sent: 2, Pending: 1}, model.OverallStatusPending},
		{"error beats pending", model.StatusCounts{Sent: 2, Pending: 1, Error: 1}, model.OverallStatusError},
		{"returned beats error", model.StatusCounts{Sent: 2, Pending: 1, Error: 1, Returned: 1}, model.OverallStatusReturned},
		{"cancelled only counts as sent", model.StatusCounts{Cancelled: 3}, model.OverallStatusSent},
		{"empty notice is sent", model.StatusCounts{}, model.OverallStatusSent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverallStatus(tt.counts))
		})
	}
}

func TestAggregateRecomputesCountsAndErrorMetadata(t *testing.T) {
	notice := buildNotice(model.NoticeSubtypeReturnReminder)
	notice.Metadata = model.NoticeMetadata{Name: "Returns: reminder", ErrorCount: 99}
	notices := newFakeNoticeRepo(notice)
	notifications := newFakeNotificationRepo(
		withStatus(notice.ID, model.NotificationStatusSent),
		withStatus(notice.ID, model.NotificationStatusError),
		withStatus(notice.ID, model.NotificationStatusError),
		withStatus(notice.ID, model.NotificationStatusPending),
	)

	aggregator := NewAggregator(notices, notifications, nil, newTestLogger())
	require.NoError(t, aggregator.Aggregate(context.Background(), []uuid.UUID{notice.ID}))

	updated, err := notices.Get(context.Background(), notice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OverallStatusError, updated.OverallStatus)
	assert.Equal(t, model.StatusCounts{Sent: 1, Error: 2, Pending: 1}, updated.StatusCounts)
	// Overwritten in full, never incremented.
	assert.Equal(t, 2, updated.Metadata.ErrorCount)
	assert.Equal(t, "Returns: reminder", updated.Metadata.Name)
}

func TestAggregateIsIdempotent(t *testing.T) {
	notice := buildNotice(model.NoticeSubtypeReturnInvitation)
	notices := newFakeNoticeRepo(notice)
	notifications := newFakeNotificationRepo(
		withStatus(notice.ID, model.NotificationStatusSent),
		withStatus(notice.ID, model.NotificationStatusError),
	)

	aggregator := NewAggregator(notices, notifications, nil, newTestLogger())
	require.NoError(t, aggregator.Aggregate(context.Background(), []uuid.UUID{notice.ID}))
	first, err := notices.Get(context.Background(), notice.ID)
	require.NoError(t, err)

	require.NoError(t, aggregator.Aggregate(context.Background(), []uuid.UUID{notice.ID}))
	second, err := notices.Get(context.Background(), notice.ID)
	require.NoError(t, err)

	assert.Equal(t, first.OverallStatus, second.OverallStatus)
	assert.Equal(t, first.StatusCounts, second.StatusCounts)
	assert.Equal(t, first.Metadata.ErrorCount, second.Metadata.ErrorCount)
}

func TestAggregateOnlyTouchesListedNotices(t *testing.T) {
	target := buildNotice(model.NoticeSubtypeReturnInvitation)
	other := buildNotice(model.NoticeSubtypeReturnReminder)
	notices := newFakeNoticeRepo(target, other)
	notifications := newFakeNotificationRepo(
		withStatus(target.ID, model.NotificationStatusSent),
		withStatus(other.ID, model.NotificationStatusError),
	)

	aggregator := NewAggregator(notices, notifications, nil, newTestLogger())
	require.NoError(t, aggregator.Aggregate(context.Background(), []uuid.UUID{target.ID}))

	untouched, err := notices.Get(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OverallStatusPending, untouched.OverallStatus)
	assert.Equal(t, model.StatusCounts{}, untouched.StatusCounts)
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []*model.Notice
}

func (r *recordingReporter) SendNoticeReport(_ context.Context, notice *model.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, notice)
}

func TestAggregateReportsOnceWhenSettled(t *testing.T) {
	notice := buildNotice(model.NoticeSubtypeReturnInvitation)
	notices := newFakeNoticeRepo(notice)
	notifications := newFakeNotificationRepo(
		withStatus(notice.ID, model.NotificationStatusSent),
	)
	reporter := &recordingReporter{}

	aggregator := NewAggregator(notices, notifications, reporter, newTestLogger())

	// First run settles the notice and reports; the second changes nothing.
	require.NoError(t, aggregator.Aggregate(context.Background(), []uuid.UUID{notice.ID}))
	require.NoError(t, aggregator.Aggregate(context.Background(), []uuid.UUID{notice.ID}))

	require.Len(t, reporter.reports, 1)
	assert.Equal(t, model.OverallStatusSent, reporter.reports[0].OverallStatus)
}
