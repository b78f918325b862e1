package domain

// ConnectionState mirrors the underlying peer connection lifecycle.
// Transitions are driven by the transport; the engine only reacts.
type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// QualityLevel selects a video constraint preset on the local media
// session without renegotiating the connection.
type QualityLevel string

const (
	QualityLevelLow    QualityLevel = "low"    // 360p / 15fps
	QualityLevelMedium QualityLevel = "medium" // 720p / 24fps
	QualityLevelHigh   QualityLevel = "high"   // 1080p / 30fps
)

// AudioConstraints are the enhanced capture defaults requested from
// the platform device.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
}

func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// DefaultVideoConstraints is the 720p-ideal/30fps capture default.
func DefaultVideoConstraints() VideoConstraints {
	return VideoConstraints{Width: 1280, Height: 720, FrameRate: 30}
}

// ConstraintsForLevel maps a quality level to its video preset.
func ConstraintsForLevel(level QualityLevel) VideoConstraints {
	switch level {
	case QualityLevelLow:
		return VideoConstraints{Width: 640, Height: 360, FrameRate: 15}
	case QualityLevelHigh:
		return VideoConstraints{Width: 1920, Height: 1080, FrameRate: 30}
	default:
		return VideoConstraints{Width: 1280, Height: 720, FrameRate: 24}
	}
}
