package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/metrics"
)

// GeneratorConfig holds the knobs the alternate-notice generator needs.
type GeneratorConfig struct {
	// Provider template for the compensating licence-holder letter.
	LetterTemplateID string
	// Working-day lead applied when computing a fresh due date per channel.
	EmailDueLeadDays  int
	LetterDueLeadDays int
}

// AlternateResult is what a generation run produced. A nil Notice means
// nothing needed compensating, which is the common case.
type AlternateResult struct {
	Notice        *model.Notice
	Notifications []*model.Notification
}

// Generator builds compensating letter notices for returns invitations whose
// primary-user email failed. Each failed notification is covered at most
// once: the alternate notice id stamped on it excludes it from any later run.
type Generator struct {
	notices       repository.NoticeRepository
	notifications repository.NotificationRepository
	contacts      repository.ContactRepository
	config        GeneratorConfig
	logger        *logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewGenerator(
	notices repository.NoticeRepository,
	notifications repository.NotificationRepository,
	contacts repository.ContactRepository,
	config GeneratorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Generator {
	return &Generator{
		notices:       notices,
		notifications: notifications,
		contacts:      contacts,
		config:        config,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Generate inspects the notice for uncovered failed primary-user invitation
// emails and, when any exist, creates a letter notice addressed to the
// deduplicated licence-holder contacts. The returned notifications have not
// been dispatched yet; the caller feeds them to the batch sender.
func (g *Generator) Generate(ctx context.Context, notice *model.Notice) (*AlternateResult, error) {
	failed, err := g.notifications.ListFailedPrimaryEmails(ctx, notice.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate notifications: %w", err)
	}
	if len(failed) == 0 {
		return &AlternateResult{}, nil
	}

	licenceRefs, returnLogIDs := collectRefs(failed)
	dueDate := g.resolveDueDate(failed)

	contacts, err := g.contacts.ListLicenceHolders(ctx, licenceRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch licence holder contacts: %w", err)
	}
	recipients := dedupeContacts(contacts)

	alternate := &model.Notice{
		ID:            uuid.New(),
		Type:          model.NoticeTypeNotification,
		Subtype:       notice.Subtype,
		ReferenceCode: newReferenceCode(),
		Issuer:        notice.Issuer,
		Licences:      pq.StringArray(licenceRefs),
		Status:        model.NoticeStatusCompleted,
		OverallStatus: model.OverallStatusPending,
		Metadata: model.NoticeMetadata{
			Name:           notice.Metadata.Name,
			RecipientCount: len(recipients),
			ReturnCycle:    notice.Metadata.ReturnCycle,
		},
		TriggerNoticeID: &notice.ID,
	}
	if err := g.notices.Create(ctx, alternate); err != nil {
		return nil, fmt.Errorf("failed to create alternate notice: %w", err)
	}

	letters := make([]*model.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		letters = append(letters, g.buildLetter(alternate, recipient, returnLogIDs, dueDate))
	}
	if err := g.notifications.CreateBatch(ctx, letters); err != nil {
		return nil, fmt.Errorf("failed to create alternate notifications: %w", err)
	}

	failedIDs := make([]uuid.UUID, 0, len(failed))
	for _, n := range failed {
		failedIDs = append(failedIDs, n.ID)
	}
	if err := g.notifications.MarkAlternateNotice(ctx, failedIDs, alternate.ID); err != nil {
		return nil, fmt.Errorf("failed to mark originating notifications: %w", err)
	}

	g.metrics.AlternateNoticesIssued.Inc()
	g.logger.Info("generated alternate notice",
		"notice_id", notice.ID.String(),
		"alternate_notice_id", alternate.ID.String(),
		"recipients", len(recipients),
		"covered_notifications", len(failed))

	return &AlternateResult{Notice: alternate, Notifications: letters}, nil
}

// resolveDueDate decides the due date for the compensating letters. When all
// failed emails share one due date that differs from the standard computed
// email due date, the invitation was ad hoc and the stored date is kept.
// Otherwise the letter-channel due date is computed fresh.
func (g *Generator) resolveDueDate(failed []*model.Notification) time.Time {
	shared, ok := sharedDueDate(failed)
	if ok && !sameDay(shared, g.futureDueDate(g.config.EmailDueLeadDays)) {
		return shared
	}
	return g.futureDueDate(g.config.LetterDueLeadDays)
}

func (g *Generator) futureDueDate(leadDays int) time.Time {
	now := g.now()
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, leadDays)
}

func (g *Generator) buildLetter(notice *model.Notice, contact *contactGroup, returnLogIDs []string, dueDate time.Time) *model.Notification {
	personalisation := model.Personalisation{
		"name":         contact.contact.Name,
		"licence_refs": strings.Join(contact.licences, ", "),
		"due_date":     dueDate.Format("2 January 2006"),
	}
	for i, line := range contact.contact.AddressLines() {
		personalisation[fmt.Sprintf("address_line_%d", i+1)] = line
	}

	due := dueDate
	return &model.Notification{
		ID:              uuid.New(),
		EventID:         notice.ID,
		MessageType:     model.MessageTypeLetter,
		MessageRef:      model.MessageRefReturnsInvitationHolder,
		ContactType:     "licence holder",
		Personalisation: personalisation,
		TemplateID:      g.config.LetterTemplateID,
		Status:          model.NotificationStatusPending,
		Licences:        pq.StringArray(contact.licences),
		ReturnLogIDs:    pq.StringArray(returnLogIDs),
		DueDate:         &due,
	}
}

// contactGroup is one deduplicated postal identity with every licence it
// covers.
type contactGroup struct {
	contact  *model.Contact
	licences []string
}

// dedupeContacts collapses contact rows by normalized identity hash, so an
// address holding several licences gets exactly one letter listing all of
// them. Order is stable for deterministic output.
func dedupeContacts(contacts []*model.Contact) []*contactGroup {
	groups := make(map[string]*contactGroup)
	order := make([]string, 0, len(contacts))

	for _, contact := range contacts {
		key := contact.HashID()
		group, ok := groups[key]
		if !ok {
			group = &contactGroup{contact: contact}
			groups[key] = group
			order = append(order, key)
		}
		group.licences = appendUnique(group.licences, contact.LicenceRef)
	}

	result := make([]*contactGroup, 0, len(order))
	for _, key := range order {
		sort.Strings(groups[key].licences)
		result = append(result, groups[key])
	}
	return result
}

func collectRefs(notifications []*model.Notification) (licences, returnLogIDs []string) {
	for _, n := range notifications {
		for _, ref := range n.Licences {
			licences = appendUnique(licences, ref)
		}
		for _, id := range n.ReturnLogIDs {
			returnLogIDs = appendUnique(returnLogIDs, id)
		}
	}
	sort.Strings(licences)
	sort.Strings(returnLogIDs)
	return licences, returnLogIDs
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

// sharedDueDate reports the single due date all notifications carry, if any.
func sharedDueDate(notifications []*model.Notification) (time.Time, bool) {
	var shared time.Time
	found := false
	for _, n := range notifications {
		if n.DueDate == nil {
			return time.Time{}, false
		}
		if !found {
			shared = *n.DueDate
			found = true
			continue
		}
		if !sameDay(shared, *n.DueDate) {
			return time.Time{}, false
		}
	}
	return shared, found
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// newReferenceCode mints a fresh human-facing code for a compensating
// notice.
func newReferenceCode() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "RINV-" + id[:6]
}
