package reliability

import (
	"context"
	"sync"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/pkg/circuitbreaker"
	"heartline/pkg/retry"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SignalSenderWrapper wraps a SignalSender with retry logic and circuit breakers.
// Signaling failures for one user must not trip delivery for everyone else, so
// each destination user gets its own breaker in addition to the global one.
type SignalSenderWrapper struct {
	sender ports.SignalSender
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	userBreakers   map[domain.UserID]*circuitbreaker.CircuitBreaker
	userBreakersMu sync.RWMutex
}

// NewSignalSenderWrapper creates a new wrapper with retry and circuit breaker
func NewSignalSenderWrapper(
	sender ports.SignalSender,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *SignalSenderWrapper {
	wrapper := &SignalSenderWrapper{
		sender:         sender,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
		userBreakers:   make(map[domain.UserID]*circuitbreaker.CircuitBreaker),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("signal circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// getUserCircuitBreaker gets or creates a circuit breaker for a destination user
func (w *SignalSenderWrapper) getUserCircuitBreaker(userID domain.UserID) *circuitbreaker.CircuitBreaker {
	w.userBreakersMu.RLock()
	cb, exists := w.userBreakers[userID]
	w.userBreakersMu.RUnlock()

	if exists {
		return cb
	}

	w.userBreakersMu.Lock()
	defer w.userBreakersMu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := w.userBreakers[userID]; exists {
		return cb
	}

	cb = circuitbreaker.New(circuitbreaker.DefaultConfig())
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		w.logger.Infow("user circuit breaker state changed",
			"user_id", userID,
			"from", from.String(),
			"to", to.String(),
		)
	})

	w.userBreakers[userID] = cb
	return cb
}

// send runs fn through retry, the global breaker and the per-user breaker for
// the destination user.
func (w *SignalSenderWrapper) send(ctx context.Context, to domain.UserID, fn func() error) error {
	if !w.retryConfig.Enabled {
		return fn()
	}

	userCB := w.getUserCircuitBreaker(to)

	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return userCB.Execute(ctx, fn)
		})
	})
}

// SendOffer delivers an offer to the receiver with retry logic
func (w *SignalSenderWrapper) SendOffer(ctx context.Context, call *domain.Call, offer webrtc.SessionDescription) error {
	return w.send(ctx, call.ReceiverID, func() error {
		return w.sender.SendOffer(ctx, call, offer)
	})
}

// SendAnswer delivers an answer to the caller with retry logic
func (w *SignalSenderWrapper) SendAnswer(ctx context.Context, call *domain.Call, answer webrtc.SessionDescription) error {
	return w.send(ctx, call.CallerID, func() error {
		return w.sender.SendAnswer(ctx, call, answer)
	})
}

// SendCandidate delivers an ICE candidate to the party opposite from
func (w *SignalSenderWrapper) SendCandidate(ctx context.Context, call *domain.Call, from domain.UserID, candidate webrtc.ICECandidateInit) error {
	return w.send(ctx, call.OtherParty(from), func() error {
		return w.sender.SendCandidate(ctx, call, from, candidate)
	})
}

// SendHangup delivers a hangup to the party opposite from
func (w *SignalSenderWrapper) SendHangup(ctx context.Context, call *domain.Call, from domain.UserID) error {
	return w.send(ctx, call.OtherParty(from), func() error {
		return w.sender.SendHangup(ctx, call, from)
	})
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *SignalSenderWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}

// GetUserCircuitBreakerStats returns circuit breaker statistics for a destination user
func (w *SignalSenderWrapper) GetUserCircuitBreakerStats(userID domain.UserID) (circuitbreaker.Stats, bool) {
	w.userBreakersMu.RLock()
	defer w.userBreakersMu.RUnlock()

	cb, exists := w.userBreakers[userID]
	if !exists {
		return circuitbreaker.Stats{}, false
	}

	return cb.GetStats(), true
}

var _ ports.SignalSender = (*SignalSenderWrapper)(nil)
