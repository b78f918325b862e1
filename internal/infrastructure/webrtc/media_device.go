package webrtc

import (
	"context"
	"fmt"
	"sync"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// SampleDevice is a capture device whose tracks are fed by the
// embedding application (the actual frame pipeline is a platform
// concern). It creates negotiable sample tracks with opus audio and
// VP8 video.
type SampleDevice struct{}

func NewSampleDevice() *SampleDevice {
	return &SampleDevice{}
}

func (d *SampleDevice) OpenAudio(ctx context.Context, constraints domain.AudioConstraints) (ports.MediaTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"heartline-audio",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	return &sampleTrack{kind: domain.TrackKindAudio, track: track, enabled: true}, nil
}

func (d *SampleDevice) OpenVideo(ctx context.Context, constraints domain.VideoConstraints) (ports.MediaTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"heartline-video",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	return &sampleTrack{kind: domain.TrackKindVideo, track: track, enabled: true, constraints: constraints}, nil
}

type sampleTrack struct {
	kind  domain.TrackKind
	track *webrtc.TrackLocalStaticSample

	mu          sync.Mutex
	enabled     bool
	stopped     bool
	constraints domain.VideoConstraints
}

func (t *sampleTrack) Kind() domain.TrackKind { return t.kind }

func (t *sampleTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.stopped
}

func (t *sampleTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *sampleTrack) ApplyConstraints(constraints domain.VideoConstraints) error {
	if t.kind != domain.TrackKindVideo {
		return fmt.Errorf("constraints apply to video tracks only")
	}
	t.mu.Lock()
	t.constraints = constraints
	t.mu.Unlock()
	return nil
}

func (t *sampleTrack) RTPTrack() webrtc.TrackLocal { return t.track }

func (t *sampleTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.enabled = false
	t.mu.Unlock()
}

func (t *sampleTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
