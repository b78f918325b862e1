package ports

import (
	"context"

	"heartline/internal/core/domain"
)

// AlertSink is the platform notification surface. Permission or API
// absence is reported as domain.ErrNotificationDisabled and must be
// treated as a recoverable condition.
type AlertSink interface {
	RequestPermission(ctx context.Context) error
	Show(ctx context.Context, intent *domain.NotificationIntent) error
	Dismiss(callID domain.CallID)
	Vibrate(callID domain.CallID, pattern []int) error
}

// Ringtone is an audible alert with a shared play/stop contract.
// Implementations are file-backed or oscillator-synthesized.
type Ringtone interface {
	Play() error
	Stop()
}

// PushSender reaches a party whose client holds no live signaling
// socket. Best-effort: delivery failure never affects the call.
type PushSender interface {
	SendCallAlert(ctx context.Context, userID domain.UserID, intent *domain.NotificationIntent) error
}
