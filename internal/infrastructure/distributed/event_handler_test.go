package distributed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"heartline/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingCallService struct {
	mu        sync.Mutex
	hangups   []domain.CallID
	hangupErr error
}

func (s *recordingCallService) StartCall(ctx context.Context, callerID, receiverID domain.UserID, callType domain.CallType) (*domain.Call, webrtc.SessionDescription, error) {
	return nil, webrtc.SessionDescription{}, nil
}

func (s *recordingCallService) ReceiveOffer(ctx context.Context, call *domain.Call, offer webrtc.SessionDescription) error {
	return nil
}

func (s *recordingCallService) AnswerCall(ctx context.Context, callID domain.CallID) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, nil
}

func (s *recordingCallService) RejectCall(ctx context.Context, callID domain.CallID) error {
	return nil
}

func (s *recordingCallService) EndCall(ctx context.Context, callID domain.CallID) error {
	return nil
}

func (s *recordingCallService) HandleRemoteAnswer(ctx context.Context, callID domain.CallID, answer webrtc.SessionDescription) error {
	return nil
}

func (s *recordingCallService) HandleRemoteCandidate(ctx context.Context, callID domain.CallID, candidate webrtc.ICECandidateInit) error {
	return nil
}

func (s *recordingCallService) HandleRemoteHangup(ctx context.Context, callID domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hangupErr != nil {
		return s.hangupErr
	}
	s.hangups = append(s.hangups, callID)
	return nil
}

func (s *recordingCallService) GetCall(ctx context.Context, callID domain.CallID) (*domain.Call, error) {
	return nil, domain.ErrCallNotFound
}

func (s *recordingCallService) ElapsedSeconds(callID domain.CallID) int { return 0 }

func TestHandle_TerminalEventsDriveHangup(t *testing.T) {
	calls := &recordingCallService{}
	h := NewCallEventHandler(calls, zap.NewNop().Sugar())

	for _, eventType := range []EventType{EventCallRejected, EventCallMissed, EventCallEnded, EventCallFailed} {
		assert.NoError(t, h.Handle(&Event{Type: eventType, CallID: domain.CallID("c-" + string(eventType))}))
	}

	assert.Equal(t, []domain.CallID{
		"c-call.rejected", "c-call.missed", "c-call.ended", "c-call.failed",
	}, calls.hangups)
}

func TestHandle_NonTerminalEventsAreIgnored(t *testing.T) {
	calls := &recordingCallService{}
	h := NewCallEventHandler(calls, zap.NewNop().Sugar())

	assert.NoError(t, h.Handle(&Event{Type: EventCallRinging, CallID: "c1"}))
	assert.NoError(t, h.Handle(&Event{Type: EventCallAnswered, CallID: "c1"}))
	assert.NoError(t, h.Handle(&Event{Type: EventQualityBatch}))
	assert.Empty(t, calls.hangups)
}

func TestHandle_UnknownCallIsNotAnError(t *testing.T) {
	calls := &recordingCallService{hangupErr: domain.ErrCallNotFound}
	h := NewCallEventHandler(calls, zap.NewNop().Sugar())

	assert.NoError(t, h.Handle(&Event{Type: EventCallEnded, CallID: "elsewhere"}))
}

func TestHandle_PropagatesHandlerFailure(t *testing.T) {
	wantErr := errors.New("engine teardown failed")
	calls := &recordingCallService{hangupErr: wantErr}
	h := NewCallEventHandler(calls, zap.NewNop().Sugar())

	assert.ErrorIs(t, h.Handle(&Event{Type: EventCallEnded, CallID: "c1"}), wantErr)
}
