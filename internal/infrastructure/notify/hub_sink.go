package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
)

// HubAlertSink routes notification intents to the call's receiver over
// the signaling hub. It serves the shared notification service, where
// one sink covers every user.
type HubAlertSink struct {
	messenger UserMessenger
	repo      ports.CallRepository
	logger    *zap.SugaredLogger
}

func NewHubAlertSink(messenger UserMessenger, repo ports.CallRepository, logger *zap.SugaredLogger) *HubAlertSink {
	return &HubAlertSink{
		messenger: messenger,
		repo:      repo,
		logger:    logger,
	}
}

// RequestPermission always succeeds: per-user availability surfaces at
// delivery time instead.
func (s *HubAlertSink) RequestPermission(ctx context.Context) error {
	return nil
}

func (s *HubAlertSink) Show(ctx context.Context, intent *domain.NotificationIntent) error {
	userID, err := s.receiverOf(ctx, intent.CallID)
	if err != nil {
		return err
	}
	if err := s.messenger.SendToUser(userID, map[string]interface{}{
		"type":    "notification",
		"payload": intent,
	}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationDisabled, err)
	}
	return nil
}

func (s *HubAlertSink) Dismiss(callID domain.CallID) {
	userID, err := s.receiverOf(context.Background(), callID)
	if err != nil {
		return
	}
	if err := s.messenger.SendToUser(userID, map[string]interface{}{
		"type":    "notification_dismiss",
		"call_id": callID,
	}); err != nil {
		s.logger.Debugw("dismiss not delivered", "user_id", userID, "call_id", callID, "error", err)
	}
}

func (s *HubAlertSink) Vibrate(callID domain.CallID, pattern []int) error {
	userID, err := s.receiverOf(context.Background(), callID)
	if err != nil {
		return err
	}
	if err := s.messenger.SendToUser(userID, map[string]interface{}{
		"type":    "vibrate",
		"pattern": pattern,
	}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationDisabled, err)
	}
	return nil
}

func (s *HubAlertSink) receiverOf(ctx context.Context, callID domain.CallID) (domain.UserID, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return "", err
	}
	return call.ReceiverID, nil
}

var _ ports.AlertSink = (*HubAlertSink)(nil)
