package ports

import (
	"context"

	"heartline/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// CallService is the call lifecycle controller. It is the single
// authority for terminal call-state transitions.
type CallService interface {
	StartCall(ctx context.Context, callerID, receiverID domain.UserID, callType domain.CallType) (*domain.Call, webrtc.SessionDescription, error)
	ReceiveOffer(ctx context.Context, call *domain.Call, offer webrtc.SessionDescription) error
	AnswerCall(ctx context.Context, callID domain.CallID) (webrtc.SessionDescription, error)
	RejectCall(ctx context.Context, callID domain.CallID) error
	EndCall(ctx context.Context, callID domain.CallID) error
	HandleRemoteAnswer(ctx context.Context, callID domain.CallID, answer webrtc.SessionDescription) error
	HandleRemoteCandidate(ctx context.Context, callID domain.CallID, candidate webrtc.ICECandidateInit) error
	HandleRemoteHangup(ctx context.Context, callID domain.CallID) error
	GetCall(ctx context.Context, callID domain.CallID) (*domain.Call, error)
	ElapsedSeconds(callID domain.CallID) int
}

// CallEngine drives exactly one peer connection handshake to
// completion or failure. Implementations never retry; failures
// surface through OnConnectionStateChange.
type CallEngine interface {
	Initialize(iceServers []webrtc.ICEServer) error
	AcquireMedia(ctx context.Context, callType domain.CallType) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	ConnectionState() domain.ConnectionState
	Stats() domain.QualitySample
	ToggleAudio() bool
	ToggleVideo() bool
	ChangeVideoQuality(level domain.QualityLevel) error
	SendMetadata(payload []byte) error
	Close() error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(domain.ConnectionState))
	OnQualityChange(fn func(domain.QualitySample))
	OnRemoteTrack(fn func(kind domain.TrackKind))
}

// EngineFactory builds one engine per call.
type EngineFactory interface {
	NewEngine(callID domain.CallID) CallEngine
}

// Notifier surfaces call events to the user and relays responses back
// to the controller. All methods are best-effort: absence of a
// notification channel never fails the call.
type Notifier interface {
	NotifyIncoming(ctx context.Context, call *domain.Call, callerName string, onAnswer, onDecline func()) *domain.NotificationIntent
	NotifyMissed(ctx context.Context, call *domain.Call, callerName string, onCallback func()) *domain.NotificationIntent
	NotifyEnded(ctx context.Context, call *domain.Call, durationSeconds int) *domain.NotificationIntent
	Dismiss(callID domain.CallID)
}

// SignalSender delivers locally produced signaling payloads to the
// remote party. The transport guarantees in-order delivery per call.
type SignalSender interface {
	SendOffer(ctx context.Context, call *domain.Call, offer webrtc.SessionDescription) error
	SendAnswer(ctx context.Context, call *domain.Call, answer webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, call *domain.Call, from domain.UserID, candidate webrtc.ICECandidateInit) error
	SendHangup(ctx context.Context, call *domain.Call, from domain.UserID) error
}

// StatsSource exposes raw connection statistics for quality sampling.
// Reads are side-effect-free with respect to the connection.
type StatsSource interface {
	ReadStats() (domain.NetworkStats, error)
}
