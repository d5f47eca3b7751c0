package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/waterops/licensing-api/internal/model"
)

// All repository interfaces in one file
type (
	// NoticeRepository handles dispatch-campaign rows in the events table.
	NoticeRepository interface {
		Create(ctx context.Context, notice *model.Notice) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notice, error)
		List(ctx context.Context, filters *model.NoticeFilters) ([]*model.Notice, error)
		UpdateAggregates(ctx context.Context, id uuid.UUID, overall model.OverallStatus, counts model.StatusCounts, metadata model.NoticeMetadata) error
	}

	// NotificationRepository handles scheduled_notifications rows.
	NotificationRepository interface {
		CreateBatch(ctx context.Context, notifications []*model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		GetByNotifyID(ctx context.Context, notifyID string) (*model.Notification, error)
		ListByNotice(ctx context.Context, noticeID uuid.UUID) ([]*model.Notification, error)
		ListPendingSince(ctx context.Context, cutoff time.Time) ([]*model.Notification, error)
		ListFailedPrimaryEmails(ctx context.Context, noticeID uuid.UUID) ([]*model.Notification, error)
		UpdateStatus(ctx context.Context, update *model.StatusUpdate) error
		UpdateStatusBatch(ctx context.Context, updates []*model.StatusUpdate) error
		MarkAlternateNotice(ctx context.Context, ids []uuid.UUID, alternateNoticeID uuid.UUID) error
		MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) error
		CountByStatus(ctx context.Context, noticeID uuid.UUID) (model.StatusCounts, error)
	}

	// ContactRepository resolves licence-holder postal contacts.
	ContactRepository interface {
		ListLicenceHolders(ctx context.Context, licenceRefs []string) ([]*model.Contact, error)
	}

	// UserRepository handles admin-API users.
	UserRepository interface {
		GetByEmail(ctx context.Context, email string) (*model.User, error)
	}
)
