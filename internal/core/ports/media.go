package ports

import (
	"context"

	"heartline/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// MediaDevice is the platform capture capability. Permission denial
// and device absence are reported as errors wrapping
// domain.ErrMediaAccess.
type MediaDevice interface {
	OpenAudio(ctx context.Context, constraints domain.AudioConstraints) (MediaTrack, error)
	OpenVideo(ctx context.Context, constraints domain.VideoConstraints) (MediaTrack, error)
}

// MediaTrack is one local capture track. Stop releases the underlying
// hardware handle and is idempotent.
type MediaTrack interface {
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	ApplyConstraints(constraints domain.VideoConstraints) error
	RTPTrack() webrtc.TrackLocal
	Stop()
	Stopped() bool
}
