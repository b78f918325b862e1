package webrtc

import (
	"context"
	"fmt"
	"sync"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"

	"go.uber.org/zap"
)

// MediaSession owns the local camera and microphone for the lifetime
// of one call. Release stops every track and must run on every
// termination path so no hardware handle leaks.
type MediaSession struct {
	device ports.MediaDevice

	mu       sync.Mutex
	audio    ports.MediaTrack
	video    ports.MediaTrack
	released bool

	logger *zap.SugaredLogger
}

func NewMediaSession(device ports.MediaDevice, logger *zap.SugaredLogger) *MediaSession {
	return &MediaSession{device: device, logger: logger}
}

// Acquire requests the microphone, and the camera for video calls,
// with enhanced capture defaults. A denied permission or missing
// device surfaces as an error wrapping domain.ErrMediaAccess and
// leaves nothing held.
func (m *MediaSession) Acquire(ctx context.Context, callType domain.CallType) error {
	audio, err := m.device.OpenAudio(ctx, domain.DefaultAudioConstraints())
	if err != nil {
		return fmt.Errorf("%w: microphone: %v", domain.ErrMediaAccess, err)
	}

	var video ports.MediaTrack
	if callType == domain.CallTypeVideo {
		video, err = m.device.OpenVideo(ctx, domain.DefaultVideoConstraints())
		if err != nil {
			audio.Stop()
			return fmt.Errorf("%w: camera: %v", domain.ErrMediaAccess, err)
		}
	}

	m.mu.Lock()
	m.audio = audio
	m.video = video
	m.released = false
	m.mu.Unlock()
	return nil
}

// ToggleAudio flips the microphone track's enabled flag and returns
// the resulting state. Returns false when no audio track exists.
func (m *MediaSession) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audio == nil || m.audio.Stopped() {
		return false
	}
	m.audio.SetEnabled(!m.audio.Enabled())
	return m.audio.Enabled()
}

// ToggleVideo flips the camera track's enabled flag.
func (m *MediaSession) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.video == nil || m.video.Stopped() {
		return false
	}
	m.video.SetEnabled(!m.video.Enabled())
	return m.video.Enabled()
}

// ChangeQuality re-applies the constraint preset for level to the
// video track without renegotiating the connection.
func (m *MediaSession) ChangeQuality(level domain.QualityLevel) error {
	m.mu.Lock()
	video := m.video
	m.mu.Unlock()
	if video == nil {
		return fmt.Errorf("no video track")
	}
	if err := video.ApplyConstraints(domain.ConstraintsForLevel(level)); err != nil {
		return fmt.Errorf("failed to apply %s constraints: %w", level, err)
	}
	m.logger.Infow("video quality changed", "level", level)
	return nil
}

// Tracks returns the live local tracks.
func (m *MediaSession) Tracks() []ports.MediaTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tracks []ports.MediaTrack
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

// Release stops every track. Idempotent.
func (m *MediaSession) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	if m.audio != nil {
		m.audio.Stop()
	}
	if m.video != nil {
		m.video.Stop()
	}
}

// Released reports whether the session's tracks were stopped.
func (m *MediaSession) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
