package notify

import "github.com/waterops/licensing-api/internal/model"

// Raw provider statuses. Email and letter share some values but not all.
const (
	StatusCreated          = "created"
	StatusSending          = "sending"
	StatusDelivered        = "delivered"
	StatusPermanentFailure = "permanent-failure"
	StatusTechnicalFailure = "technical-failure"
	StatusTemporaryFailure = "temporary-failure"
	StatusError            = "error"
	StatusPendingVirusScan = "pending-virus-check"
	StatusAccepted         = "accepted"
	StatusReceived         = "received"
	StatusValidationFailed = "validation-failed"
	StatusCancelled        = "cancelled"
)

var emailStatuses = map[string]model.NotificationStatus{
	StatusCreated:          model.NotificationStatusPending,
	StatusSending:          model.NotificationStatusPending,
	StatusDelivered:        model.NotificationStatusSent,
	StatusPermanentFailure: model.NotificationStatusError,
	StatusTechnicalFailure: model.NotificationStatusError,
	StatusTemporaryFailure: model.NotificationStatusError,
	StatusError:            model.NotificationStatusError,
}

var letterStatuses = map[string]model.NotificationStatus{
	StatusPendingVirusScan: model.NotificationStatusPending,
	StatusAccepted:         model.NotificationStatusPending,
	StatusCreated:          model.NotificationStatusPending,
	StatusSending:          model.NotificationStatusPending,
	StatusReceived:         model.NotificationStatusSent,
	StatusPermanentFailure: model.NotificationStatusError,
	StatusTechnicalFailure: model.NotificationStatusError,
	StatusTemporaryFailure: model.NotificationStatusError,
	StatusValidationFailed: model.NotificationStatusError,
	StatusError:            model.NotificationStatusError,
	StatusCancelled:        model.NotificationStatusCancelled,
}

// MapStatus normalizes a provider-reported raw status into the internal
// vocabulary for the given channel. Unrecognized raw statuses map to pending:
// the message is assumed still in flight and will be checked again on the
// next poll.
func MapStatus(channel model.Channel, raw string) model.NotificationStatus {
	var table map[string]model.NotificationStatus
	switch channel {
	case model.ChannelEmail:
		table = emailStatuses
	case model.ChannelLetter, model.ChannelPrecompiledFile:
		table = letterStatuses
	default:
		return model.NotificationStatusPending
	}

	if status, ok := table[raw]; ok {
		return status
	}
	return model.NotificationStatusPending
}
