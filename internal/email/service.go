package email

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/pkg/logger"
)

// Config holds SMTP settings for operational report mail.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Service sends operational email to notice issuers. Distinct from the
// provider client: these are internal reports, not recipient-facing
// notifications.
type Service interface {
	SendNoticeReport(ctx context.Context, notice *model.Notice)
}

type service struct {
	dialer *gomail.Dialer
	from   string
	logger *logger.Logger
}

func NewService(cfg Config, logger *logger.Logger) Service {
	return &service{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// SendNoticeReport emails the issuer a summary once their notice settles.
// Fire-and-forget: a failed report never affects dispatch state.
func (s *service) SendNoticeReport(_ context.Context, notice *model.Notice) {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", notice.Issuer)
	m.SetHeader("Subject", fmt.Sprintf("Notice %s: %s", notice.ReferenceCode, notice.OverallStatus))
	m.SetBody("text/plain", reportBody(notice))

	go func() {
		if err := s.dialer.DialAndSend(m); err != nil {
			s.logger.Error(err, "failed to send notice report",
				"notice_id", notice.ID.String(),
				"issuer", notice.Issuer)
		}
	}()
}

func reportBody(notice *model.Notice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Notice %s (%s) finished with status %s.\n\n", notice.ReferenceCode, notice.Subtype, notice.OverallStatus)
	fmt.Fprintf(&b, "Sent: %d\n", notice.StatusCounts.Sent)
	fmt.Fprintf(&b, "Pending: %d\n", notice.StatusCounts.Pending)
	fmt.Fprintf(&b, "Errors: %d\n", notice.StatusCounts.Error)
	fmt.Fprintf(&b, "Returned: %d\n", notice.StatusCounts.Returned)
	if notice.StatusCounts.Cancelled > 0 {
		fmt.Fprintf(&b, "Cancelled: %d\n", notice.StatusCounts.Cancelled)
	}
	fmt.Fprintf(&b, "\nLicences covered: %s\n", strings.Join(notice.Licences, ", "))
	return b.String()
}
