package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	defaultRingTimeout    = 30 * time.Second
	defaultReconnectGrace = 10 * time.Second
	minQualitySwitchGap   = 10 * time.Second
)

// CallMetrics receives call-state and quality observations. A nil
// implementation is valid.
type CallMetrics interface {
	ObserveStateChange(call *domain.Call)
	ObserveQuality(callID domain.CallID, sample domain.QualitySample)
}

// CallServiceConfig tunes lifecycle timers.
type CallServiceConfig struct {
	RingTimeout    time.Duration
	ReconnectGrace time.Duration
}

func DefaultCallServiceConfig() CallServiceConfig {
	return CallServiceConfig{
		RingTimeout:    defaultRingTimeout,
		ReconnectGrace: defaultReconnectGrace,
	}
}

type pairKey struct {
	caller   domain.UserID
	receiver domain.UserID
}

type activeCall struct {
	call   *domain.Call
	engine ports.CallEngine

	// localParty is the side of the call this process speaks for:
	// the caller on the initiating path, the receiver on the
	// incoming path. Outbound candidates and hangups are sent as
	// coming from it.
	localParty domain.UserID

	ringTimer  *time.Timer
	graceTimer *time.Timer

	tickerCancel context.CancelFunc
	watchCancel  context.CancelFunc
	elapsed      atomic.Int64

	lastQualitySwitch time.Time
}

// CallService binds a logical call to one engine instance and owns
// every call-state transition. Terminal transitions are final: any
// later mutation attempt fails with domain.ErrInvalidCallState.
type CallService struct {
	cfg      CallServiceConfig
	repo     ports.CallRepository
	engines  ports.EngineFactory
	notifier ports.Notifier
	signals  ports.SignalSender
	metrics  CallMetrics

	mu     sync.Mutex
	active map[domain.CallID]*activeCall
	byPair map[pairKey]domain.CallID

	logger *zap.SugaredLogger
}

func NewCallService(
	cfg CallServiceConfig,
	repo ports.CallRepository,
	engines ports.EngineFactory,
	notifier ports.Notifier,
	signals ports.SignalSender,
	metrics CallMetrics,
	logger *zap.SugaredLogger,
) *CallService {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = defaultRingTimeout
	}
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = defaultReconnectGrace
	}
	return &CallService{
		cfg:      cfg,
		repo:     repo,
		engines:  engines,
		notifier: notifier,
		signals:  signals,
		metrics:  metrics,
		active:   make(map[domain.CallID]*activeCall),
		byPair:   make(map[pairKey]domain.CallID),
		logger:   logger,
	}
}

func orderedPair(a, b domain.UserID) pairKey {
	if a < b {
		return pairKey{caller: a, receiver: b}
	}
	return pairKey{caller: b, receiver: a}
}

// StartCall creates a call in initiating state, acquires local media,
// sends the offer and transitions to ringing. It refuses with
// domain.ErrCallConflict before any media or network side effect when
// a live call already exists between the same pair.
func (s *CallService) StartCall(ctx context.Context, callerID, receiverID domain.UserID, callType domain.CallType) (*domain.Call, webrtc.SessionDescription, error) {
	call := &domain.Call{
		ID:         domain.CallID(utils.GenerateCallID()),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Type:       callType,
		Status:     domain.CallStatusInitiating,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	pair := orderedPair(callerID, receiverID)
	if _, busy := s.byPair[pair]; busy {
		s.mu.Unlock()
		return nil, webrtc.SessionDescription{}, domain.ErrCallConflict
	}
	ac := &activeCall{call: call, engine: s.engines.NewEngine(call.ID), localParty: callerID}
	s.active[call.ID] = ac
	s.byPair[pair] = call.ID
	s.mu.Unlock()

	if err := s.repo.Create(ctx, call); err != nil {
		s.drop(call.ID)
		return nil, webrtc.SessionDescription{}, fmt.Errorf("persist call: %w", err)
	}

	if err := s.setupEngine(ctx, ac); err != nil {
		s.failCall(call.ID, err)
		return nil, webrtc.SessionDescription{}, err
	}

	if err := ac.engine.AcquireMedia(ctx, callType); err != nil {
		s.failCall(call.ID, err)
		return nil, webrtc.SessionDescription{}, fmt.Errorf("%w: %v", domain.ErrMediaAccess, err)
	}

	offer, err := ac.engine.CreateOffer(ctx)
	if err != nil {
		s.failCall(call.ID, err)
		return nil, webrtc.SessionDescription{}, err
	}

	if err := s.signals.SendOffer(ctx, call, offer); err != nil {
		s.failCall(call.ID, err)
		return nil, webrtc.SessionDescription{}, err
	}

	if err := s.transition(ctx, ac, domain.CallStatusRinging); err != nil {
		return nil, webrtc.SessionDescription{}, err
	}

	s.armRingTimer(ac)
	s.watchStatus(ac)
	s.logger.Infow("call started",
		"call_id", call.ID,
		"caller_id", callerID,
		"receiver_id", receiverID,
		"type", callType,
	)
	return call, offer, nil
}

// ReceiveOffer is the receiving side's entry point. It surfaces the
// incoming call to the notifier and arms the missed-call timer. Local
// media is not touched until the user answers.
func (s *CallService) ReceiveOffer(ctx context.Context, call *domain.Call, offer webrtc.SessionDescription) error {
	s.mu.Lock()
	pair := orderedPair(call.CallerID, call.ReceiverID)
	if _, busy := s.byPair[pair]; busy {
		s.mu.Unlock()
		return domain.ErrCallConflict
	}
	ac := &activeCall{call: call, engine: s.engines.NewEngine(call.ID), localParty: call.ReceiverID}
	s.active[call.ID] = ac
	s.byPair[pair] = call.ID
	s.mu.Unlock()

	if _, err := s.repo.GetByID(ctx, call.ID); errors.Is(err, domain.ErrCallNotFound) {
		if err := s.repo.Create(ctx, call); err != nil {
			s.drop(call.ID)
			return fmt.Errorf("persist call: %w", err)
		}
	}

	if err := s.setupEngine(ctx, ac); err != nil {
		s.failCall(call.ID, err)
		return err
	}
	if err := ac.engine.SetRemoteDescription(offer); err != nil {
		s.failCall(call.ID, err)
		return fmt.Errorf("%w: %v", domain.ErrSignaling, err)
	}

	if call.Status == domain.CallStatusInitiating {
		if err := s.transition(ctx, ac, domain.CallStatusRinging); err != nil {
			return err
		}
	}

	s.armRingTimer(ac)
	s.watchStatus(ac)
	s.notifier.NotifyIncoming(ctx, call, string(call.CallerID),
		func() { _, _ = s.AnswerCall(context.Background(), call.ID) },
		func() { _ = s.RejectCall(context.Background(), call.ID) },
	)
	s.logger.Infow("incoming call", "call_id", call.ID, "caller_id", call.CallerID, "type", call.Type)
	return nil
}

// AnswerCall acquires local media, produces and sends the answer, and
// moves the call to connecting. The missed-call timer is cancelled
// atomically with the transition, so a timeout racing an answer
// resolves to exactly one outcome.
func (s *CallService) AnswerCall(ctx context.Context, callID domain.CallID) (webrtc.SessionDescription, error) {
	ac, err := s.lookupLive(ctx, callID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	s.mu.Lock()
	if ac.call.Status != domain.CallStatusRinging {
		s.mu.Unlock()
		return webrtc.SessionDescription{}, domain.ErrInvalidCallState
	}
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
	}
	s.mu.Unlock()

	if err := ac.engine.AcquireMedia(ctx, ac.call.Type); err != nil {
		s.failCall(callID, err)
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", domain.ErrMediaAccess, err)
	}

	answer, err := ac.engine.CreateAnswer(ctx)
	if err != nil {
		s.failCall(callID, err)
		return webrtc.SessionDescription{}, err
	}

	if err := s.signals.SendAnswer(ctx, ac.call, answer); err != nil {
		s.failCall(callID, err)
		return webrtc.SessionDescription{}, err
	}

	if err := s.transition(ctx, ac, domain.CallStatusConnecting); err != nil {
		return webrtc.SessionDescription{}, err
	}
	s.notifier.Dismiss(callID)
	s.logger.Infow("call answered", "call_id", callID)
	return answer, nil
}

// RejectCall declines a ringing call and tears down the engine.
func (s *CallService) RejectCall(ctx context.Context, callID domain.CallID) error {
	ac, err := s.lookupLive(ctx, callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if ac.call.Status != domain.CallStatusRinging {
		s.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
	}
	s.mu.Unlock()

	if err := s.transition(ctx, ac, domain.CallStatusRejected); err != nil {
		return err
	}
	_ = s.signals.SendHangup(ctx, ac.call, ac.localParty)
	s.notifier.Dismiss(callID)
	s.teardown(callID)
	s.logger.Infow("call rejected", "call_id", callID)
	return nil
}

// EndCall hangs up a connecting or active call. Engine teardown runs
// on every path so the camera and microphone are always released.
func (s *CallService) EndCall(ctx context.Context, callID domain.CallID) error {
	ac, err := s.lookupLive(ctx, callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	status := ac.call.Status
	wasActive := ac.call.StartedAt != nil
	s.mu.Unlock()
	if status != domain.CallStatusConnecting && status != domain.CallStatusActive {
		return domain.ErrInvalidCallState
	}

	if err := s.transition(ctx, ac, domain.CallStatusEnded); err != nil {
		return err
	}
	_ = s.signals.SendHangup(ctx, ac.call, ac.localParty)
	if wasActive {
		s.notifier.NotifyEnded(ctx, ac.call, ac.call.Duration())
	}
	s.teardown(callID)
	s.logger.Infow("call ended", "call_id", callID, "duration_s", ac.call.Duration())
	return nil
}

// HandleRemoteAnswer applies the remote answer on the calling side
// and moves the call to connecting.
func (s *CallService) HandleRemoteAnswer(ctx context.Context, callID domain.CallID, answer webrtc.SessionDescription) error {
	ac, err := s.lookupLive(ctx, callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if ac.call.Status != domain.CallStatusRinging {
		s.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
	}
	s.mu.Unlock()

	if err := ac.engine.SetRemoteDescription(answer); err != nil {
		s.failCall(callID, err)
		return fmt.Errorf("%w: %v", domain.ErrSignaling, err)
	}
	return s.transition(ctx, ac, domain.CallStatusConnecting)
}

// HandleRemoteCandidate feeds a remote ICE candidate into the engine.
// Candidates arriving before the remote description are buffered by
// the engine, never dropped.
func (s *CallService) HandleRemoteCandidate(ctx context.Context, callID domain.CallID, candidate webrtc.ICECandidateInit) error {
	ac, err := s.lookupLive(ctx, callID)
	if err != nil {
		return err
	}
	if err := ac.engine.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignaling, err)
	}
	return nil
}

// HandleRemoteHangup reacts to the other party hanging up: ringing
// becomes missed, connecting or active becomes ended. Terminal calls
// are left untouched.
func (s *CallService) HandleRemoteHangup(ctx context.Context, callID domain.CallID) error {
	ac, err := s.lookupLive(ctx, callID)
	if errors.Is(err, domain.ErrInvalidCallState) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	status := ac.call.Status
	wasActive := ac.call.StartedAt != nil
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
	}
	s.mu.Unlock()

	switch status {
	case domain.CallStatusRinging:
		if err := s.transition(ctx, ac, domain.CallStatusMissed); err != nil {
			return err
		}
		s.notifier.Dismiss(callID)
		s.notifier.NotifyMissed(ctx, ac.call, string(ac.call.CallerID), nil)
	case domain.CallStatusConnecting, domain.CallStatusActive:
		if err := s.transition(ctx, ac, domain.CallStatusEnded); err != nil {
			return err
		}
		if wasActive {
			s.notifier.NotifyEnded(ctx, ac.call, ac.call.Duration())
		}
	default:
		return nil
	}
	s.teardown(callID)
	return nil
}

// GetCall returns the authoritative call record.
func (s *CallService) GetCall(ctx context.Context, callID domain.CallID) (*domain.Call, error) {
	s.mu.Lock()
	if ac, ok := s.active[callID]; ok {
		call := *ac.call
		s.mu.Unlock()
		return &call, nil
	}
	s.mu.Unlock()
	return s.repo.GetByID(ctx, callID)
}

// ElapsedSeconds reports whole seconds since the call went active,
// refreshed on a 1-second cadence while the call stays active.
func (s *CallService) ElapsedSeconds(callID domain.CallID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.active[callID]
	if !ok {
		return 0
	}
	return int(ac.elapsed.Load())
}

func (s *CallService) setupEngine(ctx context.Context, ac *activeCall) error {
	callID := ac.call.ID
	if err := ac.engine.Initialize(nil); err != nil {
		return err
	}

	// Candidates and hangups are addressed relative to the sender, so
	// the caller path and the receiver path must each sign with their
	// own party or the relay loops the payload back to its origin.
	from := ac.localParty
	ac.engine.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if err := s.signals.SendCandidate(context.Background(), ac.call, from, candidate); err != nil {
			s.logger.Warnw("failed to relay local candidate", "call_id", callID, "error", err)
		}
	})
	ac.engine.OnConnectionStateChange(func(state domain.ConnectionState) {
		s.handleConnectionState(callID, state)
	})
	ac.engine.OnQualityChange(func(sample domain.QualitySample) {
		s.handleQualityChange(callID, sample)
	})
	return nil
}

func (s *CallService) armRingTimer(ac *activeCall) {
	callID := ac.call.ID
	s.mu.Lock()
	ac.ringTimer = time.AfterFunc(s.cfg.RingTimeout, func() { s.ringTimeout(callID) })
	s.mu.Unlock()
}

// ringTimeout fires when a ringing call was never answered. The
// status check under the lock makes the timer race-free against a
// concurrent answer or reject.
func (s *CallService) ringTimeout(callID domain.CallID) {
	s.mu.Lock()
	ac, ok := s.active[callID]
	if !ok || ac.call.Status != domain.CallStatusRinging {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.transition(ctx, ac, domain.CallStatusMissed); err != nil {
		return
	}
	s.notifier.Dismiss(callID)
	s.notifier.NotifyMissed(ctx, ac.call, string(ac.call.CallerID), func() {
		_, _, _ = s.StartCall(context.Background(), ac.call.ReceiverID, ac.call.CallerID, ac.call.Type)
	})
	s.teardown(callID)
	s.logger.Infow("call missed", "call_id", callID)
}

func (s *CallService) handleConnectionState(callID domain.CallID, state domain.ConnectionState) {
	ac, err := s.lookup(callID)
	if err != nil {
		return
	}
	s.logger.Infow("connection state changed", "call_id", callID, "state", state)

	switch state {
	case domain.ConnectionStateConnected:
		s.mu.Lock()
		if ac.graceTimer != nil {
			ac.graceTimer.Stop()
			ac.graceTimer = nil
		}
		status := ac.call.Status
		s.mu.Unlock()
		if status == domain.CallStatusConnecting {
			if err := s.transition(context.Background(), ac, domain.CallStatusActive); err == nil {
				s.startDurationTicker(ac)
			}
		}
	case domain.ConnectionStateDisconnected:
		// Transient network blip: give the transport a bounded grace
		// window before forcing failure.
		s.mu.Lock()
		if ac.graceTimer == nil && !ac.call.Status.IsTerminal() {
			ac.graceTimer = time.AfterFunc(s.cfg.ReconnectGrace, func() {
				s.failCall(callID, fmt.Errorf("connection did not recover within %s", s.cfg.ReconnectGrace))
			})
		}
		s.mu.Unlock()
	case domain.ConnectionStateFailed:
		s.failCall(callID, fmt.Errorf("transport reported failure"))
	}
}

// handleQualityChange records the sample and nudges the local video
// constraint preset to match the rating, rate limited to avoid
// oscillation.
func (s *CallService) handleQualityChange(callID domain.CallID, sample domain.QualitySample) {
	ac, err := s.lookup(callID)
	if err != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveQuality(callID, sample)
	}
	if ac.call.Type != domain.CallTypeVideo {
		return
	}

	s.mu.Lock()
	if time.Since(ac.lastQualitySwitch) < minQualitySwitchGap {
		s.mu.Unlock()
		return
	}
	ac.lastQualitySwitch = time.Now()
	s.mu.Unlock()

	var level domain.QualityLevel
	switch sample.Rating {
	case domain.QualityExcellent:
		level = domain.QualityLevelHigh
	case domain.QualityGood:
		level = domain.QualityLevelMedium
	case domain.QualityPoor:
		level = domain.QualityLevelLow
	default:
		return
	}
	if err := ac.engine.ChangeVideoQuality(level); err != nil {
		s.logger.Warnw("failed to adjust video quality", "call_id", callID, "level", level, "error", err)
	}
}

func (s *CallService) startDurationTicker(ac *activeCall) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	ac.tickerCancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ac.call.StartedAt != nil {
					ac.elapsed.Store(int64(time.Since(*ac.call.StartedAt).Seconds()))
				}
			}
		}
	}()
}

// transition applies the state change, persists it and notifies the
// metrics observer. The domain guard rejects any post-terminal
// mutation.
func (s *CallService) transition(ctx context.Context, ac *activeCall, next domain.CallStatus) error {
	s.mu.Lock()
	if err := ac.call.Transition(next); err != nil {
		s.mu.Unlock()
		s.logger.Debugw("transition rejected", "call_id", ac.call.ID, "to", next, "error", err)
		return err
	}
	call := *ac.call
	s.mu.Unlock()

	if err := s.repo.Update(ctx, &call); err != nil {
		s.logger.Errorw("failed to persist call state", "call_id", call.ID, "status", next, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveStateChange(&call)
	}
	return nil
}

// failCall is the single failure funnel: terminal transition to
// failed plus guaranteed resource teardown.
func (s *CallService) failCall(callID domain.CallID, cause error) {
	ac, err := s.lookup(callID)
	if err != nil {
		return
	}
	s.logger.Warnw("call failed", "call_id", callID, "error", cause)
	_ = s.transition(context.Background(), ac, domain.CallStatusFailed)
	s.notifier.Dismiss(callID)
	s.teardown(callID)
}

func (s *CallService) lookup(callID domain.CallID) (*activeCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.active[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return ac, nil
}

// lookupLive resolves a call for a mutating operation. A call that
// already reached a terminal state and was torn down is distinguished
// from one that never existed: the former answers
// domain.ErrInvalidCallState, only the latter domain.ErrCallNotFound.
func (s *CallService) lookupLive(ctx context.Context, callID domain.CallID) (*activeCall, error) {
	s.mu.Lock()
	ac, ok := s.active[callID]
	s.mu.Unlock()
	if ok {
		return ac, nil
	}

	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.IsTerminal() {
		return nil, domain.ErrInvalidCallState
	}
	return nil, domain.ErrCallNotFound
}

// watchStatus follows the repository's status stream for the lifetime
// of the call. When another instance moves the record to a terminal
// state, the local side adopts it: timers stop, the notifier is
// dismissed and the engine is torn down, without writing the already
// persisted status back.
func (s *CallService) watchStatus(ac *activeCall) {
	callID := ac.call.ID
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	ac.watchCancel = cancel
	s.mu.Unlock()

	updates, err := s.repo.Subscribe(ctx, callID)
	if err != nil || updates == nil {
		cancel()
		if err != nil {
			s.logger.Warnw("status subscription unavailable", "call_id", callID, "error", err)
		}
		return
	}

	go func() {
		defer cancel()
		for status := range updates {
			if !status.IsTerminal() {
				continue
			}
			s.mu.Lock()
			local := ac.call.Status
			s.mu.Unlock()
			if local.IsTerminal() {
				return
			}
			s.adoptRemoteStatus(ac, status)
			return
		}
	}()
}

// adoptRemoteStatus applies a terminal status that was persisted by
// another instance.
func (s *CallService) adoptRemoteStatus(ac *activeCall, status domain.CallStatus) {
	callID := ac.call.ID
	s.mu.Lock()
	if ac.call.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	ac.call.Status = status
	if ac.call.EndedAt == nil {
		now := time.Now()
		ac.call.EndedAt = &now
	}
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
	}
	s.mu.Unlock()

	s.notifier.Dismiss(callID)
	s.teardown(callID)
	s.logger.Infow("call state adopted from peer instance", "call_id", callID, "status", status)
}

// teardown closes the engine (which releases local media), stops all
// timers and forgets the call. Safe to invoke on any path, any number
// of times.
func (s *CallService) teardown(callID domain.CallID) {
	s.mu.Lock()
	ac, ok := s.active[callID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
	}
	if ac.graceTimer != nil {
		ac.graceTimer.Stop()
	}
	if ac.tickerCancel != nil {
		ac.tickerCancel()
	}
	if ac.watchCancel != nil {
		ac.watchCancel()
	}
	delete(s.active, callID)
	delete(s.byPair, orderedPair(ac.call.CallerID, ac.call.ReceiverID))
	s.mu.Unlock()

	if err := ac.engine.Close(); err != nil {
		s.logger.Warnw("engine close failed", "call_id", callID, "error", err)
	}
}

// drop forgets a registration that never got past creation.
func (s *CallService) drop(callID domain.CallID) {
	s.mu.Lock()
	if ac, ok := s.active[callID]; ok {
		delete(s.active, callID)
		delete(s.byPair, orderedPair(ac.call.CallerID, ac.call.ReceiverID))
	}
	s.mu.Unlock()
}
