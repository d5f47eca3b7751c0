package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// NoticeType is the event type recorded for dispatch campaigns. Only
// "notification" events are handled by this service.
const NoticeTypeNotification = "notification"

// Notice subtypes.
const (
	NoticeSubtypeReturnInvitation = "returnInvitation"
	NoticeSubtypeReturnReminder   = "returnReminder"
	NoticeSubtypeAbstractionAlert = "waterAbstractionAlerts"
	NoticeSubtypeHandsOffFlow     = "hof-stop"
)

type NoticeStatus string

const (
	NoticeStatusStarted   NoticeStatus = "started"
	NoticeStatusCompleted NoticeStatus = "completed"
	NoticeStatusError     NoticeStatus = "error"
)

// OverallStatus is the derived notice-level status, recomputed from child
// notification statuses and never mutated independently.
type OverallStatus string

const (
	OverallStatusPending  OverallStatus = "pending"
	OverallStatusSent     OverallStatus = "sent"
	OverallStatusError    OverallStatus = "error"
	OverallStatusReturned OverallStatus = "returned"
)

// StatusCounts maps notification status to the number of child notifications
// currently in that status. Always fully recomputed by the aggregator.
type StatusCounts struct {
	Error     int `json:"error"`
	Pending   int `json:"pending"`
	Returned  int `json:"returned"`
	Sent      int `json:"sent"`
	Cancelled int `json:"cancelled"`
}

func (c StatusCounts) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *StatusCounts) Scan(src any) error {
	return scanJSON(src, c)
}

// NoticeMetadata is the structured form of the events.metadata JSON column.
// Extra preserves keys written by older tooling that this service does not
// interpret.
type NoticeMetadata struct {
	Name           string         `json:"name,omitempty"`
	RecipientCount int            `json:"recipients,omitempty"`
	ErrorCount     int            `json:"error,omitempty"`
	ReturnCycle    *ReturnCycle   `json:"returnCycle,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

func (m NoticeMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *NoticeMetadata) Scan(src any) error {
	return scanJSON(src, m)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}

// ReturnCycle describes the returns period a notice covers.
type ReturnCycle struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	DueDate   string `json:"dueDate,omitempty"`
	IsSummer  bool   `json:"isSummer,omitempty"`
}

// Notice is one dispatch campaign: a grouping of notifications sent together
// for one purpose. Stored in the events table.
type Notice struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	Type            string         `db:"type" json:"type"`
	Subtype         string         `db:"subtype" json:"subtype"`
	ReferenceCode   string         `db:"reference_code" json:"reference_code"`
	Issuer          string         `db:"issuer" json:"issuer"`
	Licences        pq.StringArray `db:"licences" json:"licences"`
	Metadata        NoticeMetadata `db:"metadata" json:"metadata"`
	Status          NoticeStatus   `db:"status" json:"status"`
	OverallStatus   OverallStatus  `db:"overall_status" json:"overall_status"`
	StatusCounts    StatusCounts   `db:"status_counts" json:"status_counts"`
	TriggerNoticeID *uuid.UUID     `db:"trigger_notice_id" json:"trigger_notice_id,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// NoticeFilters narrows notice list queries.
type NoticeFilters struct {
	Subtype       string
	OverallStatus OverallStatus
	Issuer        string
	ReferenceCode string
}

// IsReturnInvitation reports whether a failed email on this notice should be
// covered by a compensating letter notice.
func (n *Notice) IsReturnInvitation() bool {
	return n.Subtype == NoticeSubtypeReturnInvitation
}
