package webrtc

import (
	"context"
	"fmt"
	"testing"

	"heartline/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, callID domain.CallID) *Engine {
	t.Helper()
	e := NewEngine(callID, EngineConfig{}, NewSampleDevice(), zap.NewNop().Sugar())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// remotePeerOffer produces a real SDP offer from a second engine, the
// way the other side of a call would.
func remotePeerOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	peer := newTestEngine(t, "remote-peer")
	require.NoError(t, peer.Initialize(nil))
	offer, err := peer.CreateOffer(context.Background())
	require.NoError(t, err)
	return offer
}

func hostCandidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 192.0.2.%d 54321 typ host", n, n),
	}
}

func TestEngine_BuffersCandidatesUntilRemoteDescription(t *testing.T) {
	e := newTestEngine(t, "call-1")
	require.NoError(t, e.Initialize(nil))

	first := hostCandidate(1)
	second := hostCandidate(2)
	third := hostCandidate(3)
	require.NoError(t, e.AddICECandidate(first))
	require.NoError(t, e.AddICECandidate(second))
	require.NoError(t, e.AddICECandidate(third))

	e.mu.Lock()
	buffered := append([]webrtc.ICECandidateInit(nil), e.pendingCandidates...)
	remoteSet := e.remoteSet
	e.mu.Unlock()
	require.False(t, remoteSet)
	require.Equal(t, []webrtc.ICECandidateInit{first, second, third}, buffered,
		"candidates must be held in arrival order until the remote description lands")

	require.NoError(t, e.SetRemoteDescription(remotePeerOffer(t)))

	// Flushed exactly once: the buffer is empty and stays empty.
	e.mu.Lock()
	flushed := len(e.pendingCandidates)
	remoteSet = e.remoteSet
	e.mu.Unlock()
	assert.Zero(t, flushed)
	assert.True(t, remoteSet)
}

func TestEngine_CandidateAfterRemoteDescriptionAppliesDirectly(t *testing.T) {
	e := newTestEngine(t, "call-1")
	require.NoError(t, e.Initialize(nil))
	require.NoError(t, e.SetRemoteDescription(remotePeerOffer(t)))

	require.NoError(t, e.AddICECandidate(hostCandidate(4)))

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.pendingCandidates)
}

func TestEngine_OfferAnswerHandshake(t *testing.T) {
	caller := newTestEngine(t, "call-1")
	require.NoError(t, caller.Initialize(nil))
	require.NoError(t, caller.AcquireMedia(context.Background(), domain.CallTypeVideo))

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")

	callee := newTestEngine(t, "call-1")
	require.NoError(t, callee.Initialize(nil))
	require.NoError(t, callee.SetRemoteDescription(offer))
	require.NoError(t, callee.AcquireMedia(context.Background(), domain.CallTypeVideo))

	answer, err := callee.CreateAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, caller.SetRemoteDescription(answer))
}

func TestEngine_AudioCallNegotiatesVideoReceive(t *testing.T) {
	e := newTestEngine(t, "call-1")
	require.NoError(t, e.Initialize(nil))
	require.NoError(t, e.AcquireMedia(context.Background(), domain.CallTypeAudio))

	// Audio-only calls still offer a receive-video slot so an upgrade
	// needs no renegotiation.
	offer, err := e.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
}

func TestEngine_NotInitialized(t *testing.T) {
	e := newTestEngine(t, "call-1")

	_, err := e.CreateOffer(context.Background())
	assert.Error(t, err)
	_, err = e.CreateAnswer(context.Background())
	assert.Error(t, err)
	assert.Error(t, e.SetRemoteDescription(webrtc.SessionDescription{}))
	assert.Error(t, e.AcquireMedia(context.Background(), domain.CallTypeAudio))
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t, "call-1")
	require.NoError(t, e.Initialize(nil))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, domain.ConnectionStateClosed, e.ConnectionState())
}

func TestEngine_ClosedRefusesFurtherUse(t *testing.T) {
	e := newTestEngine(t, "call-1")
	require.NoError(t, e.Initialize(nil))
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Initialize(nil), domain.ErrEngineClosed)
	assert.ErrorIs(t, e.AddICECandidate(hostCandidate(1)), domain.ErrEngineClosed)
	assert.ErrorIs(t, e.SendMetadata([]byte("x")), domain.ErrEngineClosed)
	assert.ErrorIs(t, e.AcquireMedia(context.Background(), domain.CallTypeAudio), domain.ErrEngineClosed)
}

func TestEngine_CloseReleasesMedia(t *testing.T) {
	e := newTestEngine(t, "call-1")
	require.NoError(t, e.Initialize(nil))
	require.NoError(t, e.AcquireMedia(context.Background(), domain.CallTypeVideo))

	e.mu.Lock()
	media := e.media
	e.mu.Unlock()
	require.NotNil(t, media)

	require.NoError(t, e.Close())
	assert.True(t, media.Released())
}

func TestEngine_TogglesWithoutMedia(t *testing.T) {
	e := newTestEngine(t, "call-1")
	require.NoError(t, e.Initialize(nil))

	assert.False(t, e.ToggleAudio())
	assert.False(t, e.ToggleVideo())
	assert.Error(t, e.ChangeVideoQuality(domain.QualityLevelLow))
}

func TestMapConnectionState(t *testing.T) {
	assert.Equal(t, domain.ConnectionStateNew, mapConnectionState(webrtc.PeerConnectionStateNew))
	assert.Equal(t, domain.ConnectionStateConnecting, mapConnectionState(webrtc.PeerConnectionStateConnecting))
	assert.Equal(t, domain.ConnectionStateConnected, mapConnectionState(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, domain.ConnectionStateDisconnected, mapConnectionState(webrtc.PeerConnectionStateDisconnected))
	assert.Equal(t, domain.ConnectionStateFailed, mapConnectionState(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, domain.ConnectionStateClosed, mapConnectionState(webrtc.PeerConnectionStateClosed))
}
