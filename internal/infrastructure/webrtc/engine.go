package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/internal/core/services"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// EngineConfig WebRTC engine configuration
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	QualityInterval time.Duration
}

// Independent STUN endpoints for redundancy.
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:global.stun.twilio.com:3478"}},
}

// Engine drives exactly one peer connection handshake to completion
// or failure. It reacts to transport-driven state transitions and
// never forces one except closed on explicit teardown.
type Engine struct {
	callID domain.CallID
	config EngineConfig
	device ports.MediaDevice

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	media         *MediaSession
	metadata      *webrtc.DataChannel
	stats         *statsSource
	monitor       *services.QualityMonitor
	monitorCancel context.CancelFunc

	// Candidates received before the remote description is set are
	// buffered here and flushed in arrival order, never dropped.
	pendingCandidates []webrtc.ICECandidateInit
	remoteSet         bool

	state  domain.ConnectionState
	closed bool

	onICECandidate          func(webrtc.ICECandidateInit)
	onConnectionStateChange func(domain.ConnectionState)
	onRemoteTrack           func(domain.TrackKind)

	logger *zap.SugaredLogger
}

// EngineFactory builds one engine per call, sharing the device and
// configuration across calls.
type EngineFactory struct {
	config EngineConfig
	device ports.MediaDevice
	logger *zap.SugaredLogger
}

func NewEngineFactory(config EngineConfig, device ports.MediaDevice, logger *zap.SugaredLogger) *EngineFactory {
	return &EngineFactory{config: config, device: device, logger: logger}
}

func (f *EngineFactory) NewEngine(callID domain.CallID) ports.CallEngine {
	return NewEngine(callID, f.config, f.device, f.logger)
}

func NewEngine(callID domain.CallID, config EngineConfig, device ports.MediaDevice, logger *zap.SugaredLogger) *Engine {
	monitor := services.NewQualityMonitor(logger)
	if config.QualityInterval > 0 {
		monitor.SetInterval(config.QualityInterval)
	}
	return &Engine{
		callID:  callID,
		config:  config,
		device:  device,
		state:   domain.ConnectionStateNew,
		monitor: monitor,
		logger:  logger,
	}
}

// Initialize creates the underlying peer connection with the default
// redundant STUN set plus the ordered "metadata" side channel.
func (e *Engine) Initialize(iceServers []webrtc.ICEServer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrEngineClosed
	}

	if iceServers == nil {
		iceServers = e.config.ICEServers
	}
	if len(iceServers) == 0 {
		iceServers = defaultICEServers
	}

	settingEngine := webrtc.SettingEngine{}
	if e.config.PortRange.Min > 0 && e.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(e.config.PortRange.Min, e.config.PortRange.Max); err != nil {
			return fmt.Errorf("failed to set port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   iceServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	e.pc = pc
	e.stats = newStatsSource(pc)

	ordered := true
	metadata, err := pc.CreateDataChannel("metadata", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		e.pc = nil
		return fmt.Errorf("failed to create metadata channel: %w", err)
	}
	e.metadata = metadata

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		e.mu.Lock()
		fn := e.onICECandidate
		e.mu.Unlock()
		if fn != nil {
			fn(candidate.ToJSON())
		}
	})

	pc.OnConnectionStateChange(e.handleConnectionState)

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.logger.Infow("remote track started",
			"call_id", e.callID,
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		kind := domain.TrackKindAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.TrackKindVideo
		}

		e.mu.Lock()
		fn := e.onRemoteTrack
		stats := e.stats
		e.mu.Unlock()
		if fn != nil {
			fn(kind)
		}

		go stats.readRemoteTrack(track, e.logger)
		go stats.readRTCP(receiver)
	})

	return nil
}

// AcquireMedia opens the local camera and microphone for the call
// type and binds the tracks to the connection. Must run before offer
// or answer creation for the tracks to be negotiated.
func (e *Engine) AcquireMedia(ctx context.Context, callType domain.CallType) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.ErrEngineClosed
	}
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("engine not initialized")
	}

	media := NewMediaSession(e.device, e.logger)
	if err := media.Acquire(ctx, callType); err != nil {
		return err
	}

	for _, track := range media.Tracks() {
		if _, err := pc.AddTrack(track.RTPTrack()); err != nil {
			media.Release()
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
	}

	e.mu.Lock()
	e.media = media
	e.mu.Unlock()
	return nil
}

// CreateOffer produces the local description, always negotiating
// audio and receive-video capability regardless of call type so a
// mid-call type change needs no extra negotiation round.
func (e *Engine) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	pc, media := e.pc, e.media
	e.mu.Unlock()
	if pc == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("engine not initialized")
	}

	if err := e.ensureRecvCapability(pc, media); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer produces the local description for the receiving side.
func (e *Engine) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("engine not initialized")
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return answer, nil
}

// SetRemoteDescription applies the remote SDP and flushes every
// buffered candidate in arrival order exactly once.
func (e *Engine) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("engine not initialized")
	}

	if err := pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	e.mu.Lock()
	e.remoteSet = true
	flush := e.pendingCandidates
	e.pendingCandidates = nil
	e.mu.Unlock()

	for _, candidate := range flush {
		if err := pc.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("failed to apply buffered candidate: %w", err)
		}
	}
	return nil
}

// AddICECandidate applies a remote candidate, or buffers it until the
// remote description is set.
func (e *Engine) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.ErrEngineClosed
	}
	if !e.remoteSet {
		e.pendingCandidates = append(e.pendingCandidates, candidate)
		e.mu.Unlock()
		return nil
	}
	pc := e.pc
	e.mu.Unlock()

	return pc.AddICECandidate(candidate)
}

func (e *Engine) ConnectionState() domain.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats delegates to the quality monitor's sample.
func (e *Engine) Stats() domain.QualitySample {
	e.mu.Lock()
	stats := e.stats
	e.mu.Unlock()
	if stats == nil {
		return e.monitor.Last()
	}
	return e.monitor.Sample(stats)
}

func (e *Engine) ToggleAudio() bool {
	e.mu.Lock()
	media := e.media
	e.mu.Unlock()
	if media == nil {
		return false
	}
	return media.ToggleAudio()
}

func (e *Engine) ToggleVideo() bool {
	e.mu.Lock()
	media := e.media
	e.mu.Unlock()
	if media == nil {
		return false
	}
	return media.ToggleVideo()
}

// ChangeVideoQuality re-applies track constraints without
// renegotiating the connection.
func (e *Engine) ChangeVideoQuality(level domain.QualityLevel) error {
	e.mu.Lock()
	media := e.media
	e.mu.Unlock()
	if media == nil {
		return fmt.Errorf("no local media attached")
	}
	return media.ChangeQuality(level)
}

// SendMetadata writes a payload to the ordered side channel.
func (e *Engine) SendMetadata(payload []byte) error {
	e.mu.Lock()
	metadata := e.metadata
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return domain.ErrEngineClosed
	}
	if metadata == nil {
		return fmt.Errorf("metadata channel not open")
	}
	return metadata.Send(payload)
}

// OnICECandidate registers the local-candidate callback. Single
// slot, last writer wins; one engine serves one call.
func (e *Engine) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	e.onICECandidate = fn
	e.mu.Unlock()
}

func (e *Engine) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	e.mu.Lock()
	e.onConnectionStateChange = fn
	e.mu.Unlock()
}

func (e *Engine) OnQualityChange(fn func(domain.QualitySample)) {
	e.monitor.OnChange(fn)
}

func (e *Engine) OnRemoteTrack(fn func(domain.TrackKind)) {
	e.mu.Lock()
	e.onRemoteTrack = fn
	e.mu.Unlock()
}

// Close stops local tracks, releases the remote stream handles,
// closes the side channel and the peer connection, and resets
// quality state. Closing an already-closed engine is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.state = domain.ConnectionStateClosed
	media := e.media
	metadata := e.metadata
	pc := e.pc
	cancel := e.monitorCancel
	e.monitorCancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if media != nil {
		media.Release()
	}
	if metadata != nil {
		if err := metadata.Close(); err != nil {
			e.logger.Debugw("metadata channel close failed", "call_id", e.callID, "error", err)
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			e.logger.Warnw("peer connection close failed", "call_id", e.callID, "error", err)
		}
	}
	e.monitor.Reset()
	return nil
}

// ensureRecvCapability adds receive-only transceivers for any kind we
// are not sending, so the offer always covers audio and video.
func (e *Engine) ensureRecvCapability(pc *webrtc.PeerConnection, media *MediaSession) error {
	hasAudio, hasVideo := false, false
	if media != nil {
		for _, track := range media.Tracks() {
			switch track.Kind() {
			case domain.TrackKindAudio:
				hasAudio = true
			case domain.TrackKindVideo:
				hasVideo = true
			}
		}
	}

	if !hasAudio {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("failed to add audio transceiver: %w", err)
		}
	}
	if !hasVideo {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}
	return nil
}

func (e *Engine) handleConnectionState(state webrtc.PeerConnectionState) {
	mapped := mapConnectionState(state)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.state = mapped
	fn := e.onConnectionStateChange
	stats := e.stats
	cancel := e.monitorCancel

	// The monitor samples only while connected; otherwise it stays
	// dormant.
	switch mapped {
	case domain.ConnectionStateConnected:
		if cancel == nil && stats != nil {
			ctx, c := context.WithCancel(context.Background())
			e.monitorCancel = c
			go e.monitor.Run(ctx, stats, func() bool {
				return e.ConnectionState() == domain.ConnectionStateConnected
			})
		}
	case domain.ConnectionStateFailed, domain.ConnectionStateDisconnected, domain.ConnectionStateClosed:
		if cancel != nil {
			e.monitorCancel = nil
		}
	}
	e.mu.Unlock()

	if mapped != domain.ConnectionStateConnected && cancel != nil {
		cancel()
	}

	e.logger.Infow("connection state changed", "call_id", e.callID, "state", mapped)
	if fn != nil {
		fn(mapped)
	}
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectionStateNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionStateFailed
	default:
		return domain.ConnectionStateClosed
	}
}
