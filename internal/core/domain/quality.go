package domain

import "time"

// NetworkStats are the raw connection metrics one quality sample is
// derived from. Bitrate is bits per second, RTT and Jitter are wall
// durations measured by the transport.
type NetworkStats struct {
	Bitrate     int           `json:"bitrate"`
	PacketsLost int           `json:"packets_lost"`
	RTT         time.Duration `json:"rtt"`
	Jitter      time.Duration `json:"jitter"`
}

type QualityRating string

const (
	QualityExcellent QualityRating = "excellent"
	QualityGood      QualityRating = "good"
	QualityPoor      QualityRating = "poor"
	QualityUnknown   QualityRating = "unknown"
)

// QualitySample is a periodic derived measurement of the active
// session. Only the most recent sample is retained.
type QualitySample struct {
	Score     int           `json:"score"` // 0-100
	Rating    QualityRating `json:"rating"`
	Stats     NetworkStats  `json:"stats"`
	Timestamp time.Time     `json:"timestamp"`
}
