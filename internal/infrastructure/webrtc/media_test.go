package webrtc

import (
	"context"
	"errors"
	"testing"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyDevice wraps the sample device and can fail the camera while
// keeping a handle on every track it opened.
type flakyDevice struct {
	inner    *SampleDevice
	videoErr error
	opened   []ports.MediaTrack
}

func (d *flakyDevice) OpenAudio(ctx context.Context, constraints domain.AudioConstraints) (ports.MediaTrack, error) {
	track, err := d.inner.OpenAudio(ctx, constraints)
	if err == nil {
		d.opened = append(d.opened, track)
	}
	return track, err
}

func (d *flakyDevice) OpenVideo(ctx context.Context, constraints domain.VideoConstraints) (ports.MediaTrack, error) {
	if d.videoErr != nil {
		return nil, d.videoErr
	}
	track, err := d.inner.OpenVideo(ctx, constraints)
	if err == nil {
		d.opened = append(d.opened, track)
	}
	return track, err
}

func newMediaSession() *MediaSession {
	return NewMediaSession(NewSampleDevice(), zap.NewNop().Sugar())
}

func TestMediaSession_AudioCall(t *testing.T) {
	m := newMediaSession()
	require.NoError(t, m.Acquire(context.Background(), domain.CallTypeAudio))

	tracks := m.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, domain.TrackKindAudio, tracks[0].Kind())
	assert.True(t, tracks[0].Enabled())
}

func TestMediaSession_VideoCall(t *testing.T) {
	m := newMediaSession()
	require.NoError(t, m.Acquire(context.Background(), domain.CallTypeVideo))

	tracks := m.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, domain.TrackKindAudio, tracks[0].Kind())
	assert.Equal(t, domain.TrackKindVideo, tracks[1].Kind())
}

func TestMediaSession_CameraFailureStopsMicrophone(t *testing.T) {
	device := &flakyDevice{inner: NewSampleDevice(), videoErr: errors.New("camera busy")}
	m := NewMediaSession(device, zap.NewNop().Sugar())

	err := m.Acquire(context.Background(), domain.CallTypeVideo)
	require.ErrorIs(t, err, domain.ErrMediaAccess)

	// The microphone opened first and must not stay held.
	require.Len(t, device.opened, 1)
	assert.True(t, device.opened[0].Stopped())
	assert.Empty(t, m.Tracks())
}

func TestMediaSession_Toggles(t *testing.T) {
	m := newMediaSession()
	require.NoError(t, m.Acquire(context.Background(), domain.CallTypeVideo))

	assert.False(t, m.ToggleAudio(), "first toggle mutes")
	assert.True(t, m.ToggleAudio(), "second toggle unmutes")
	assert.False(t, m.ToggleVideo())
	assert.True(t, m.ToggleVideo())
}

func TestMediaSession_TogglesAfterRelease(t *testing.T) {
	m := newMediaSession()
	require.NoError(t, m.Acquire(context.Background(), domain.CallTypeVideo))
	m.Release()

	assert.False(t, m.ToggleAudio())
	assert.False(t, m.ToggleVideo())
}

func TestMediaSession_ReleaseIsIdempotent(t *testing.T) {
	m := newMediaSession()
	require.NoError(t, m.Acquire(context.Background(), domain.CallTypeVideo))

	m.Release()
	m.Release()

	assert.True(t, m.Released())
	for _, track := range m.Tracks() {
		assert.True(t, track.Stopped())
	}
}

func TestMediaSession_ChangeQuality(t *testing.T) {
	m := newMediaSession()

	assert.Error(t, m.ChangeQuality(domain.QualityLevelLow), "no video track yet")

	require.NoError(t, m.Acquire(context.Background(), domain.CallTypeVideo))
	assert.NoError(t, m.ChangeQuality(domain.QualityLevelLow))
	assert.NoError(t, m.ChangeQuality(domain.QualityLevelHigh))
}
