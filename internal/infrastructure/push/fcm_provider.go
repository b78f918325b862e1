package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"

	"go.uber.org/zap"
)

// TokenStore resolves a user to their registered device tokens.
type TokenStore interface {
	Tokens(ctx context.Context, userID domain.UserID) ([]string, error)
	Register(ctx context.Context, userID domain.UserID, token string) error
	Remove(ctx context.Context, userID domain.UserID, tokens []string) error
}

// FCMProvider delivers call alerts through Firebase Cloud Messaging to
// users whose clients hold no live signaling socket. Delivery is best
// effort and never affects the call itself.
type FCMProvider struct {
	app    *firebase.App
	tokens TokenStore
	logger *zap.SugaredLogger
}

// FCMConfig contains configuration for FCM provider
type FCMConfig struct {
	CredentialsPath string // Path to service account JSON file
	CredentialsJSON []byte // Service account JSON content (alternative to file path)
	ProjectID       string // Firebase Project ID
}

// NewFCMProvider creates a new FCM provider
func NewFCMProvider(config *FCMConfig, tokens TokenStore, logger *zap.SugaredLogger) (*FCMProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("FCM config is required")
	}

	var opts []option.ClientOption

	// Use credentials from JSON content if provided
	if len(config.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(config.CredentialsJSON))
	} else if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		return nil, fmt.Errorf("either CredentialsPath or CredentialsJSON must be provided")
	}

	ctx := context.Background()

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID: config.ProjectID,
	}, opts...)
	if err != nil {
		logger.Errorw("failed to initialize Firebase app",
			"error", err,
			"project_id", config.ProjectID,
		)
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	logger.Infow("FCM provider initialized", "project_id", config.ProjectID)

	return &FCMProvider{
		app:    app,
		tokens: tokens,
		logger: logger,
	}, nil
}

// SendCallAlert implements ports.PushSender.
func (f *FCMProvider) SendCallAlert(ctx context.Context, userID domain.UserID, intent *domain.NotificationIntent) error {
	if f.app == nil {
		return fmt.Errorf("FCM app is not initialized")
	}

	tokens, err := f.tokens.Tokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve push tokens: %w", err)
	}
	if len(tokens) == 0 {
		f.logger.Debugw("no push tokens registered", "user_id", userID)
		return nil
	}

	client, err := f.app.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("failed to get messaging client: %w", err)
	}

	fcmMessage := &messaging.MulticastMessage{
		Notification: &messaging.Notification{
			Title: intent.Title,
			Body:  intent.Body,
		},
		Tokens: tokens,
		Data: map[string]string{
			"kind":    string(intent.Kind),
			"call_id": string(intent.CallID),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: channelFor(intent.Kind),
				Sound:     "default",
			},
		},
	}

	response, err := client.SendMulticast(ctx, fcmMessage)
	if err != nil {
		f.logger.Errorw("failed to send FCM multicast message",
			"error", err,
			"user_id", userID,
			"token_count", len(tokens),
		)
		return fmt.Errorf("failed to send FCM message: %w", err)
	}

	var invalid []string
	for i, resp := range response.Responses {
		if resp.Success || resp.Error == nil {
			continue
		}
		f.logger.Warnw("FCM send failed for token",
			"token_prefix", maskPushToken(tokens[i]),
			"error", resp.Error,
		)
		if messaging.IsUnregistered(resp.Error) || messaging.IsInvalidArgument(resp.Error) {
			invalid = append(invalid, tokens[i])
		}
	}

	// Stale tokens are pruned so later sends stay small.
	if len(invalid) > 0 {
		if err := f.tokens.Remove(ctx, userID, invalid); err != nil {
			f.logger.Warnw("failed to prune invalid push tokens",
				"user_id", userID,
				"count", len(invalid),
				"error", err,
			)
		}
	}

	f.logger.Infow("call alert pushed",
		"user_id", userID,
		"kind", intent.Kind,
		"call_id", intent.CallID,
		"success_count", response.SuccessCount,
		"failure_count", response.FailureCount,
	)

	return nil
}

func channelFor(kind domain.NotificationKind) string {
	switch kind {
	case domain.NotificationIncoming:
		return "incoming_calls"
	case domain.NotificationMissed:
		return "missed_calls"
	default:
		return "call_updates"
	}
}

// maskPushToken returns a safe masked version of a push token for logging
// Shows only first 8 and last 8 characters, with middle masked
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}

var _ ports.PushSender = (*FCMProvider)(nil)
