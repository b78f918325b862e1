package services

import (
	"errors"
	"testing"
	"time"

	"heartline/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubStatsSource struct {
	stats domain.NetworkStats
	err   error
}

func (s *stubStatsSource) ReadStats() (domain.NetworkStats, error) {
	return s.stats, s.err
}

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		stats domain.NetworkStats
		want  int
	}{
		{
			name: "all metrics healthy",
			stats: domain.NetworkStats{
				Bitrate:     2_000_000,
				PacketsLost: 0,
				RTT:         40 * time.Millisecond,
				Jitter:      10 * time.Millisecond,
			},
			want: 100,
		},
		{
			name: "low bitrate and loss with good latency",
			stats: domain.NetworkStats{
				Bitrate:     200_000,
				PacketsLost: 10,
				RTT:         50 * time.Millisecond,
				Jitter:      10 * time.Millisecond,
			},
			want: 50,
		},
		{
			name: "high rtt only",
			stats: domain.NetworkStats{
				Bitrate:     1_000_000,
				PacketsLost: 0,
				RTT:         300 * time.Millisecond,
			},
			want: 75,
		},
		{
			name: "all four penalties stack",
			stats: domain.NetworkStats{
				Bitrate:     100_000,
				PacketsLost: 50,
				RTT:         500 * time.Millisecond,
				Jitter:      80 * time.Millisecond,
			},
			want: 10,
		},
		{
			name: "boundary values do not penalize",
			stats: domain.NetworkStats{
				Bitrate:     500_000,
				PacketsLost: 5,
				RTT:         200 * time.Millisecond,
				Jitter:      50 * time.Millisecond,
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.stats))
		})
	}
}

func TestRate(t *testing.T) {
	assert.Equal(t, domain.QualityExcellent, Rate(domain.NetworkStats{
		Bitrate: 1_500_000, PacketsLost: 0, RTT: 50 * time.Millisecond,
	}))
	assert.Equal(t, domain.QualityGood, Rate(domain.NetworkStats{
		Bitrate: 800_000, PacketsLost: 3, RTT: 150 * time.Millisecond,
	}))
	assert.Equal(t, domain.QualityPoor, Rate(domain.NetworkStats{
		Bitrate: 100_000, PacketsLost: 20, RTT: 400 * time.Millisecond,
	}))
	assert.Equal(t, domain.QualityUnknown, Rate(domain.NetworkStats{}))
}

func TestQualityMonitor_Sample(t *testing.T) {
	m := NewQualityMonitor(zap.NewNop().Sugar())

	var observed []domain.QualitySample
	m.OnChange(func(sample domain.QualitySample) {
		observed = append(observed, sample)
	})

	src := &stubStatsSource{stats: domain.NetworkStats{
		Bitrate:     2_000_000,
		PacketsLost: 0,
		RTT:         40 * time.Millisecond,
	}}

	sample := m.Sample(src)
	assert.Equal(t, 100, sample.Score)
	assert.Equal(t, domain.QualityExcellent, sample.Rating)
	assert.Len(t, observed, 1)

	// Same stats: no change event
	m.Sample(src)
	assert.Len(t, observed, 1)

	// Degraded stats: change event fires
	src.stats = domain.NetworkStats{Bitrate: 200_000, PacketsLost: 10, RTT: 50 * time.Millisecond}
	sample = m.Sample(src)
	assert.Equal(t, 50, sample.Score)
	assert.Equal(t, domain.QualityPoor, sample.Rating)
	assert.Len(t, observed, 2)
}

func TestQualityMonitor_SampleError(t *testing.T) {
	m := NewQualityMonitor(zap.NewNop().Sugar())

	src := &stubStatsSource{stats: domain.NetworkStats{Bitrate: 2_000_000, RTT: 40 * time.Millisecond}}
	good := m.Sample(src)
	assert.Equal(t, 100, good.Score)

	// Sampling must not throw: failure keeps the last score with
	// rating unknown.
	src.err = errors.New("stats unavailable")
	sample := m.Sample(src)
	assert.Equal(t, domain.QualityUnknown, sample.Rating)
	assert.Equal(t, good.Score, sample.Score)
	assert.Equal(t, sample, m.Last())
}

func TestQualityMonitor_Reset(t *testing.T) {
	m := NewQualityMonitor(zap.NewNop().Sugar())
	m.Sample(&stubStatsSource{stats: domain.NetworkStats{Bitrate: 2_000_000}})

	m.Reset()
	last := m.Last()
	assert.Equal(t, 0, last.Score)
	assert.Equal(t, domain.QualityUnknown, last.Rating)
}
