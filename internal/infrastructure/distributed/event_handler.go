package distributed

import (
	"context"
	"errors"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"

	"go.uber.org/zap"
)

// CallEventHandler consumes bus events published by peer instances and
// applies them to the local call lifecycle. A terminal transition on
// another node tears the local engine down the same way a hangup signal
// from the remote party would.
type CallEventHandler struct {
	calls  ports.CallService
	logger *zap.SugaredLogger
}

// NewCallEventHandler creates a new call event handler
func NewCallEventHandler(calls ports.CallService, logger *zap.SugaredLogger) *CallEventHandler {
	return &CallEventHandler{calls: calls, logger: logger}
}

// Handle processes one bus event. Events for calls this instance does
// not hold are expected and ignored.
func (h *CallEventHandler) Handle(event *Event) error {
	switch event.Type {
	case EventCallRejected, EventCallMissed, EventCallEnded, EventCallFailed:
		err := h.calls.HandleRemoteHangup(context.Background(), event.CallID)
		if errors.Is(err, domain.ErrCallNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		h.logger.Debugw("applied peer call event",
			"type", event.Type,
			"call_id", event.CallID,
		)
	case EventQualityDegraded:
		h.logger.Infow("peer reported degraded quality",
			"call_id", event.CallID,
			"user_id", event.UserID,
		)
	}
	return nil
}
