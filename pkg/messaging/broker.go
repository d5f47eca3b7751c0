package messaging

import (
	"context"

	"github.com/google/uuid"

	"github.com/waterops/licensing-api/internal/model"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Close() error
}

// Channel names published by this service.
const (
	ChannelNotificationStatus = "notifications.status"
)

// StatusEvent is published whenever a notification's internal status
// changes, so downstream reporting can react without polling the database.
type StatusEvent struct {
	NotificationID uuid.UUID                `json:"notification_id"`
	NoticeID       uuid.UUID                `json:"notice_id"`
	Status         model.NotificationStatus `json:"status"`
	NotifyStatus   string                   `json:"notify_status,omitempty"`
}
