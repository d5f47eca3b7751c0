package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	apperrors "github.com/waterops/licensing-api/pkg/errors"
)

type notificationRepository struct {
	*BaseRepository
}

func NewNotificationRepository(base *BaseRepository) repository.NotificationRepository {
	return &notificationRepository{BaseRepository: base}
}

const notificationColumns = `
	id, event_id, message_type, message_ref, contact_type, recipient,
	personalisation, template_id, notify_id, notify_status, notify_error,
	status, plaintext, pdf, licences, return_log_ids, due_date,
	licence_monitoring_station_id, alternate_notice_id, returned_at, created_at
`

func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	query := `
		INSERT INTO scheduled_notifications (` + notificationColumns + `)
		VALUES (
			:id, :event_id, :message_type, :message_ref, :contact_type, :recipient,
			:personalisation, :template_id, :notify_id, :notify_status, :notify_error,
			:status, :plaintext, :pdf, :licences, :return_log_ids, :due_date,
			:licence_monitoring_station_id, :alternate_notice_id, :returned_at, :created_at
		)
	`
	now := time.Now()
	for _, n := range notifications {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
	}

	if _, err := r.db.NamedExecContext(ctx, query, notifications); err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM scheduled_notifications WHERE id = $1`

	var notification model.Notification
	if err := r.db.GetContext(ctx, &notification, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("notification", err)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &notification, nil
}

func (r *notificationRepository) GetByNotifyID(ctx context.Context, notifyID string) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM scheduled_notifications WHERE notify_id = $1`

	var notification model.Notification
	if err := r.db.GetContext(ctx, &notification, query, notifyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("notification", err)
		}
		return nil, fmt.Errorf("failed to get notification by notify id: %w", err)
	}
	return &notification, nil
}

func (r *notificationRepository) ListByNotice(ctx context.Context, noticeID uuid.UUID) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM scheduled_notifications
		WHERE event_id = $1
		ORDER BY created_at, id
	`
	var notifications []*model.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, noticeID); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// ListPendingSince returns notifications still pending whose send attempt
// falls within the provider's retention window. Anything older can no longer
// be looked up and is excluded rather than retried.
func (r *notificationRepository) ListPendingSince(ctx context.Context, cutoff time.Time) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM scheduled_notifications
		WHERE status = $1
		  AND notify_id IS NOT NULL
		  AND created_at >= $2
		ORDER BY created_at, id
	`
	var notifications []*model.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, model.NotificationStatusPending, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	return notifications, nil
}

// ListFailedPrimaryEmails returns the failed primary-user invitation emails
// of a notice that have not yet been covered by an alternate notice.
func (r *notificationRepository) ListFailedPrimaryEmails(ctx context.Context, noticeID uuid.UUID) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM scheduled_notifications
		WHERE event_id = $1
		  AND status = $2
		  AND message_type = $3
		  AND message_ref = $4
		  AND alternate_notice_id IS NULL
		ORDER BY created_at, id
	`
	var notifications []*model.Notification
	err := r.db.SelectContext(ctx, &notifications, query,
		noticeID,
		model.NotificationStatusError,
		model.MessageTypeEmail,
		model.MessageRefReturnsInvitationPrimary,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed primary emails: %w", err)
	}
	return notifications, nil
}

// UpdateStatus patches the status-relevant columns of one row. Columns whose
// supplied value is nil keep their stored value, so a partial update never
// clobbers unrelated data.
func (r *notificationRepository) UpdateStatus(ctx context.Context, update *model.StatusUpdate) error {
	query := `
		UPDATE scheduled_notifications
		SET status = $1,
			notify_id = COALESCE($2, notify_id),
			notify_status = COALESCE($3, notify_status),
			notify_error = COALESCE($4, notify_error),
			plaintext = COALESCE($5, plaintext)
		WHERE id = $6
	`
	result, err := r.db.ExecContext(ctx, query,
		update.Status,
		update.NotifyID,
		update.NotifyStatus,
		update.NotifyError,
		update.Plaintext,
		update.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("notification", nil)
	}
	return nil
}

// UpdateStatusBatch merges a batch of status updates in one statement. Only
// the status-relevant columns are written; everything else on the rows is
// preserved.
func (r *notificationRepository) UpdateStatusBatch(ctx context.Context, updates []*model.StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	values := make([]string, 0, len(updates))
	args := make([]interface{}, 0, len(updates)*5)
	for i, u := range updates {
		base := i * 5
		values = append(values, fmt.Sprintf("($%d::uuid, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, u.ID, u.Status, u.NotifyStatus, u.NotifyError, u.NotifyID)
	}

	query := `
		UPDATE scheduled_notifications AS n
		SET status = v.status,
			notify_status = COALESCE(v.notify_status, n.notify_status),
			notify_error = COALESCE(v.notify_error, n.notify_error),
			notify_id = COALESCE(v.notify_id, n.notify_id)
		FROM (VALUES ` + strings.Join(values, ", ") + `
		) AS v(id, status, notify_status, notify_error, notify_id)
		WHERE n.id = v.id
	`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to batch update notification statuses: %w", err)
	}
	return nil
}

// MarkAlternateNotice stamps the originating failed notifications with the
// compensating notice id so they are never reprocessed. Rows that already
// carry an alternate notice id are left untouched.
func (r *notificationRepository) MarkAlternateNotice(ctx context.Context, ids []uuid.UUID, alternateNoticeID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE scheduled_notifications
		SET alternate_notice_id = $1
		WHERE id = ANY($2) AND alternate_notice_id IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, alternateNoticeID, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark alternate notice: %w", err)
	}
	return nil
}

// MarkReturned records a physical letter reported returned to sender. Only
// letters already confirmed sent can transition to returned; a row in any
// other state reports not found.
func (r *notificationRepository) MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) error {
	query := `
		UPDATE scheduled_notifications
		SET status = $1, returned_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, model.NotificationStatusReturned, returnedAt, id, model.NotificationStatusSent)
	if err != nil {
		return fmt.Errorf("failed to mark notification returned: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("notification", nil)
	}
	return nil
}

func (r *notificationRepository) CountByStatus(ctx context.Context, noticeID uuid.UUID) (model.StatusCounts, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM scheduled_notifications
		WHERE event_id = $1
		GROUP BY status
	`
	rows := []struct {
		Status model.NotificationStatus `db:"status"`
		Count  int                      `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, noticeID); err != nil {
		return model.StatusCounts{}, fmt.Errorf("failed to count notification statuses: %w", err)
	}

	var counts model.StatusCounts
	for _, row := range rows {
		switch row.Status {
		case model.NotificationStatusError:
			counts.Error = row.Count
		case model.NotificationStatusPending:
			counts.Pending = row.Count
		case model.NotificationStatusReturned:
			counts.Returned = row.Count
		case model.NotificationStatusSent:
			counts.Sent = row.Count
		case model.NotificationStatusCancelled:
			counts.Cancelled = row.Count
		}
	}
	return counts, nil
}
