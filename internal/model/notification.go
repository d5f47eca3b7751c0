package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// NotificationStatus is the internal, channel-independent status vocabulary
// that provider-specific raw statuses are normalized into.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusError     NotificationStatus = "error"
	NotificationStatusCancelled NotificationStatus = "cancelled"
	NotificationStatusReturned  NotificationStatus = "returned"
)

// Channel is the closed set of transports a notification can be dispatched
// over. Derived from message type and ref; every dispatch site switches
// exhaustively over it.
type Channel int

const (
	ChannelEmail Channel = iota
	ChannelLetter
	ChannelPrecompiledFile
)

func (c Channel) String() string {
	switch c {
	case ChannelEmail:
		return "email"
	case ChannelLetter:
		return "letter"
	case ChannelPrecompiledFile:
		return "precompiled-file"
	default:
		return "unknown"
	}
}

// Message types as stored.
const (
	MessageTypeEmail  = "email"
	MessageTypeLetter = "letter"
)

// Message refs this service treats specially.
const (
	MessageRefPaperReturn                = "pdf.return_form"
	MessageRefReturnsInvitationPrimary   = "returns_invitation_primary_user_email"
	MessageRefReturnsInvitationHolder    = "returns_invitation_licence_holder_letter"
	MessageRefReturnsReminderPrimaryUser = "returns_reminder_primary_user_email"
)

// Personalisation holds the per-recipient template fields as stored in the
// personalisation JSON column.
type Personalisation map[string]any

func (p Personalisation) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal(map[string]any{})
	}
	return json.Marshal(p)
}

func (p *Personalisation) Scan(src any) error {
	return scanJSON(src, p)
}

// Notification is one message to one recipient on one channel within a
// notice. Stored in the scheduled_notifications table.
type Notification struct {
	ID                         uuid.UUID          `db:"id" json:"id"`
	EventID                    uuid.UUID          `db:"event_id" json:"event_id"`
	MessageType                string             `db:"message_type" json:"message_type"`
	MessageRef                 string             `db:"message_ref" json:"message_ref"`
	ContactType                string             `db:"contact_type" json:"contact_type"`
	Recipient                  *string            `db:"recipient" json:"recipient,omitempty"`
	Personalisation            Personalisation    `db:"personalisation" json:"personalisation"`
	TemplateID                 string             `db:"template_id" json:"template_id"`
	NotifyID                   *string            `db:"notify_id" json:"notify_id,omitempty"`
	NotifyStatus               *string            `db:"notify_status" json:"notify_status,omitempty"`
	NotifyError                *string            `db:"notify_error" json:"notify_error,omitempty"`
	Status                     NotificationStatus `db:"status" json:"status"`
	Plaintext                  string             `db:"plaintext" json:"plaintext"`
	PDF                        []byte             `db:"pdf" json:"-"`
	Licences                   pq.StringArray     `db:"licences" json:"licences"`
	ReturnLogIDs               pq.StringArray     `db:"return_log_ids" json:"return_log_ids"`
	DueDate                    *time.Time         `db:"due_date" json:"due_date,omitempty"`
	LicenceMonitoringStationID *uuid.UUID         `db:"licence_monitoring_station_id" json:"licence_monitoring_station_id,omitempty"`
	AlternateNoticeID          *uuid.UUID         `db:"alternate_notice_id" json:"alternate_notice_id,omitempty"`
	ReturnedAt                 *time.Time         `db:"returned_at" json:"returned_at,omitempty"`
	CreatedAt                  time.Time          `db:"created_at" json:"created_at"`
}

// Channel resolves the dispatch transport for this notification. Letters
// whose ref is the paper return form carry a pre-rendered PDF and go through
// the provider's precompiled-file path instead of the templated letter path.
func (n *Notification) Channel() Channel {
	if n.MessageType == MessageTypeEmail {
		return ChannelEmail
	}
	if n.MessageRef == MessageRefPaperReturn {
		return ChannelPrecompiledFile
	}
	return ChannelLetter
}

// IsPrimaryEmailInvitation reports whether this notification is a
// returns-invitation email to a primary user, the only kind covered by
// alternate (paper) notice generation when it fails.
func (n *Notification) IsPrimaryEmailInvitation() bool {
	return n.MessageType == MessageTypeEmail &&
		n.MessageRef == MessageRefReturnsInvitationPrimary
}

// StatusUpdate carries the columns the result recorder is allowed to touch.
// Everything else on the row is preserved by the upsert.
type StatusUpdate struct {
	ID           uuid.UUID          `db:"id"`
	Status       NotificationStatus `db:"status"`
	NotifyID     *string            `db:"notify_id"`
	NotifyStatus *string            `db:"notify_status"`
	NotifyError  *string            `db:"notify_error"`
	Plaintext    *string            `db:"plaintext"`
}
