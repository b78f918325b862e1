package services

import (
	"context"
	"sync"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"

	"go.uber.org/zap"
)

const defaultSampleInterval = 5 * time.Second

// QualityMonitor derives a normalized quality score from raw
// connection statistics. Sampling must never throw into the call
// path: if statistics are unavailable the last known sample is
// returned with rating unknown.
type QualityMonitor struct {
	mu       sync.Mutex
	last     domain.QualitySample
	onChange func(domain.QualitySample)

	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewQualityMonitor(logger *zap.SugaredLogger) *QualityMonitor {
	return &QualityMonitor{
		last:     domain.QualitySample{Rating: domain.QualityUnknown},
		interval: defaultSampleInterval,
		logger:   logger,
	}
}

// OnChange registers the quality-changed callback. Single slot,
// last writer wins.
func (m *QualityMonitor) OnChange(fn func(domain.QualitySample)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// SetInterval overrides the sampling cadence.
func (m *QualityMonitor) SetInterval(interval time.Duration) {
	m.mu.Lock()
	m.interval = interval
	m.mu.Unlock()
}

// Sample reads the source once and publishes the derived sample.
func (m *QualityMonitor) Sample(src ports.StatsSource) domain.QualitySample {
	stats, err := src.ReadStats()
	if err != nil {
		m.mu.Lock()
		sample := m.last
		sample.Rating = domain.QualityUnknown
		m.last = sample
		m.mu.Unlock()
		return sample
	}

	sample := domain.QualitySample{
		Score:     Score(stats),
		Rating:    Rate(stats),
		Stats:     stats,
		Timestamp: time.Now(),
	}

	m.mu.Lock()
	changed := sample.Rating != m.last.Rating || sample.Score != m.last.Score
	m.last = sample
	fn := m.onChange
	m.mu.Unlock()

	if changed && fn != nil {
		fn(sample)
	}
	return sample
}

// Last returns the most recent sample (rolling, single slot).
func (m *QualityMonitor) Last() domain.QualitySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Reset clears quality state back to {score 0, rating unknown}.
func (m *QualityMonitor) Reset() {
	m.mu.Lock()
	m.last = domain.QualitySample{Rating: domain.QualityUnknown}
	m.mu.Unlock()
}

// Run samples src on the configured interval until ctx is cancelled.
// connected gates sampling: while it reports false the monitor is
// dormant and produces nothing.
func (m *QualityMonitor) Run(ctx context.Context, src ports.StatsSource, connected func() bool) {
	m.mu.Lock()
	interval := m.interval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !connected() {
				continue
			}
			sample := m.Sample(src)
			if m.logger != nil {
				m.logger.Debugw("quality sample",
					"score", sample.Score,
					"rating", sample.Rating,
					"bitrate", sample.Stats.Bitrate,
					"packets_lost", sample.Stats.PacketsLost,
					"rtt", sample.Stats.RTT,
					"jitter", sample.Stats.Jitter,
				)
			}
		}
	}
}

// Score is a pure function of the raw metrics: start at 100, subtract
// 30 when bitrate < 500 kbps, 20 when more than 5 packets were lost,
// 25 when RTT exceeds 200ms, 15 when jitter exceeds 50ms, clamped to
// [0,100].
func Score(stats domain.NetworkStats) int {
	score := 100
	if stats.Bitrate < 500_000 {
		score -= 30
	}
	if stats.PacketsLost > 5 {
		score -= 20
	}
	if stats.RTT > 200*time.Millisecond {
		score -= 25
	}
	if stats.Jitter > 50*time.Millisecond {
		score -= 15
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Rate buckets the raw metrics into a qualitative rating.
func Rate(stats domain.NetworkStats) domain.QualityRating {
	switch {
	case stats.Bitrate > 1_000_000 && stats.PacketsLost < 2 && stats.RTT < 100*time.Millisecond:
		return domain.QualityExcellent
	case stats.Bitrate > 500_000 && stats.PacketsLost < 5 && stats.RTT < 200*time.Millisecond:
		return domain.QualityGood
	case stats.Bitrate > 0:
		return domain.QualityPoor
	default:
		return domain.QualityUnknown
	}
}
