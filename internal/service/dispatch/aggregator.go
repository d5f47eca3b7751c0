package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	"github.com/waterops/licensing-api/pkg/logger"
)

// NoticeReporter is notified when a notice's overall status settles, so the
// issuer can be told how the dispatch went. Implementations must be
// fire-and-forget.
type NoticeReporter interface {
	SendNoticeReport(ctx context.Context, notice *model.Notice)
}

// Aggregator recomputes notice-level derived state from child notification
// statuses. Overall status and counts are always a pure function of the
// current children; nothing is incremented.
type Aggregator struct {
	notices       repository.NoticeRepository
	notifications repository.NotificationRepository
	reporter      NoticeReporter
	logger        *logger.Logger
}

func NewAggregator(notices repository.NoticeRepository, notifications repository.NotificationRepository, reporter NoticeReporter, logger *logger.Logger) *Aggregator {
	return &Aggregator{
		notices:       notices,
		notifications: notifications,
		reporter:      reporter,
		logger:        logger,
	}
}

// Aggregate recomputes and persists overall status, status counts and the
// metadata error count for each given notice. Only the listed notices are
// touched.
func (a *Aggregator) Aggregate(ctx context.Context, noticeIDs []uuid.UUID) error {
	for _, id := range noticeIDs {
		if err := a.aggregateOne(ctx, id); err != nil {
			return fmt.Errorf("failed to aggregate notice %s: %w", id, err)
		}
	}
	return nil
}

func (a *Aggregator) aggregateOne(ctx context.Context, noticeID uuid.UUID) error {
	notice, err := a.notices.Get(ctx, noticeID)
	if err != nil {
		return err
	}

	counts, err := a.notifications.CountByStatus(ctx, noticeID)
	if err != nil {
		return err
	}

	overall := OverallStatus(counts)

	metadata := notice.Metadata
	metadata.ErrorCount = counts.Error

	if err := a.notices.UpdateAggregates(ctx, noticeID, overall, counts, metadata); err != nil {
		return err
	}

	// Tell the issuer once, when the notice first settles out of pending.
	if a.reporter != nil && overall != model.OverallStatusPending && notice.OverallStatus != overall {
		notice.OverallStatus = overall
		notice.StatusCounts = counts
		notice.Metadata = metadata
		a.reporter.SendNoticeReport(ctx, notice)
	}

	a.logger.Debug("aggregated notice",
		"notice_id", noticeID.String(),
		"overall_status", string(overall),
		"errors", counts.Error)
	return nil
}

// OverallStatus derives the notice-level status from child counts. Highest
// precedence wins: returned > error > pending > sent.
func OverallStatus(counts model.StatusCounts) model.OverallStatus {
	switch {
	case counts.Returned > 0:
		return model.OverallStatusReturned
	case counts.Error > 0:
		return model.OverallStatusError
	case counts.Pending > 0:
		return model.OverallStatusPending
	default:
		return model.OverallStatusSent
	}
}
