package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	apperrors "github.com/waterops/licensing-api/pkg/errors"
	"github.com/waterops/licensing-api/pkg/logger"
)

// Config holds the orchestration knobs.
type Config struct {
	// PostSendDelay is the pause between finishing a notice's sends and the
	// first email status check. The provider needs non-zero time to move a
	// just-accepted email out of its indeterminate state; checking earlier
	// yields stale reads, not errors.
	PostSendDelay time.Duration
}

// Service orchestrates the full send flow for one notice: batch send, a
// short pause, an immediate email status check, aggregation, and alternate
// notice generation for returns invitations with failed primary emails.
type Service struct {
	notices       repository.NoticeRepository
	notifications repository.NotificationRepository
	sender        *Sender
	checker       *StatusChecker
	recorder      *Recorder
	aggregator    *Aggregator
	generator     *Generator
	config        Config
	logger        *logger.Logger
}

func NewService(
	notices repository.NoticeRepository,
	notifications repository.NotificationRepository,
	sender *Sender,
	checker *StatusChecker,
	recorder *Recorder,
	aggregator *Aggregator,
	generator *Generator,
	config Config,
	logger *logger.Logger,
) *Service {
	return &Service{
		notices:       notices,
		notifications: notifications,
		sender:        sender,
		checker:       checker,
		recorder:      recorder,
		aggregator:    aggregator,
		generator:     generator,
		config:        config,
		logger:        logger,
	}
}

// SendNotice dispatches every not-yet-attempted notification of the notice.
func (s *Service) SendNotice(ctx context.Context, noticeID uuid.UUID) error {
	notice, err := s.notices.Get(ctx, noticeID)
	if err != nil {
		return fmt.Errorf("failed to load notice: %w", err)
	}
	if notice.Type != model.NoticeTypeNotification {
		return fmt.Errorf("notice %s is not a notification event", noticeID)
	}

	all, err := s.notifications.ListByNotice(ctx, noticeID)
	if err != nil {
		return fmt.Errorf("failed to load notifications: %w", err)
	}

	unattempted := make([]*model.Notification, 0, len(all))
	for _, n := range all {
		if n.Status == model.NotificationStatusPending && n.NotifyID == nil {
			unattempted = append(unattempted, n)
		}
	}
	if len(unattempted) == 0 {
		s.logger.Info("nothing to send", "notice_id", noticeID.String())
		return nil
	}

	sent := s.sender.SendBatch(ctx, unattempted, notice.ReferenceCode)

	s.logger.Info("notice batch sent",
		"notice_id", noticeID.String(),
		"reference_code", notice.ReferenceCode,
		"attempted", len(unattempted),
		"accepted", len(sent))

	time.Sleep(s.config.PostSendDelay)

	s.checkEmails(ctx, noticeID, sent)

	if err := s.aggregator.Aggregate(ctx, []uuid.UUID{noticeID}); err != nil {
		return err
	}

	if notice.IsReturnInvitation() {
		if err := s.sendAlternate(ctx, notice); err != nil {
			return err
		}
	}
	return nil
}

// checkEmails re-checks the just-accepted email sends so hard bounces show
// up without waiting for the next scheduled poll.
func (s *Service) checkEmails(ctx context.Context, noticeID uuid.UUID, sent []*model.Notification) {
	emails := make([]*model.Notification, 0, len(sent))
	for _, n := range sent {
		if n.Channel() == model.ChannelEmail {
			emails = append(emails, n)
		}
	}
	if len(emails) == 0 {
		return
	}

	updates := s.checker.CheckBatch(ctx, emails, nil)
	if len(updates) == 0 {
		return
	}

	noticeIDs := make(map[uuid.UUID]uuid.UUID, len(updates))
	for _, u := range updates {
		noticeIDs[u.ID] = noticeID
	}
	if err := s.recorder.RecordBatch(ctx, updates, noticeIDs); err != nil {
		s.logger.Error(err, "failed to record immediate email statuses",
			"notice_id", noticeID.String())
	}
}

func (s *Service) sendAlternate(ctx context.Context, notice *model.Notice) error {
	result, err := s.generator.Generate(ctx, notice)
	if err != nil {
		return fmt.Errorf("failed to generate alternate notice: %w", err)
	}
	if result.Notice == nil {
		return nil
	}

	s.sender.SendBatch(ctx, result.Notifications, result.Notice.ReferenceCode)

	return s.aggregator.Aggregate(ctx, []uuid.UUID{notice.ID, result.Notice.ID})
}

// ReturnedLetter handles the provider's returned-to-sender callback. A
// callback with no matching notification, or one whose letter was never
// confirmed sent, is a logged no-op. Lookup failures propagate so the
// provider retries the callback.
func (s *Service) ReturnedLetter(ctx context.Context, notifyID string) (bool, error) {
	notification, err := s.notifications.GetByNotifyID(ctx, notifyID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.logger.Info("returned-letter callback with no matching notification",
				"notify_id", notifyID)
			return false, nil
		}
		return false, fmt.Errorf("failed to look up returned letter: %w", err)
	}

	if notification.Status != model.NotificationStatusSent {
		s.logger.Info("returned-letter callback for notification not in sent state",
			"notify_id", notifyID,
			"status", notification.Status)
		return false, nil
	}

	if err := s.notifications.MarkReturned(ctx, notification.ID, time.Now()); err != nil {
		return true, fmt.Errorf("failed to mark notification returned: %w", err)
	}

	if err := s.aggregator.Aggregate(ctx, []uuid.UUID{notification.EventID}); err != nil {
		return true, err
	}
	return true, nil
}
