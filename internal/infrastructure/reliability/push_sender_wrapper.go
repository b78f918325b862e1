package reliability

import (
	"context"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/pkg/retry"

	"go.uber.org/zap"
)

// PushSenderWrapper retries transient push delivery failures. Push is
// best-effort so exhausted retries are logged and swallowed.
type PushSenderWrapper struct {
	sender      ports.PushSender
	retryConfig retry.Config
	logger      *zap.SugaredLogger
}

// NewPushSenderWrapper creates a new wrapper around a push sender
func NewPushSenderWrapper(sender ports.PushSender, retryConfig retry.Config, logger *zap.SugaredLogger) *PushSenderWrapper {
	return &PushSenderWrapper{
		sender:      sender,
		retryConfig: retryConfig,
		logger:      logger,
	}
}

// SendCallAlert sends a push alert with retry logic
func (w *PushSenderWrapper) SendCallAlert(ctx context.Context, userID domain.UserID, intent *domain.NotificationIntent) error {
	if !w.retryConfig.Enabled {
		return w.sender.SendCallAlert(ctx, userID, intent)
	}

	err := retry.Retry(ctx, w.retryConfig, func() error {
		return w.sender.SendCallAlert(ctx, userID, intent)
	})
	if err != nil {
		w.logger.Warnw("push alert dropped after retries",
			"user_id", userID,
			"call_id", intent.CallID,
			"error", err,
		)
	}
	return err
}

var _ ports.PushSender = (*PushSenderWrapper)(nil)
