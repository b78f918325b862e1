package monitoring

import (
	"time"

	"heartline/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	callsActiveTotal prometheus.Gauge
	callsTotal       *prometheus.CounterVec
	signalsTotal     *prometheus.CounterVec

	// Histograms
	callDuration   prometheus.Histogram
	callSetupTime  prometheus.Histogram
	networkLatency prometheus.Histogram

	// Per-call quality metrics
	callQualityScore *prometheus.GaugeVec
	callBitrate      *prometheus.GaugeVec
	callPacketsLost  *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		callsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "heartline_calls_active_total",
			Help: "Number of calls currently in progress",
		}),

		callsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heartline_calls_total",
			Help: "Total number of calls by terminal outcome",
		}, []string{"outcome", "type"}),

		signalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heartline_signals_total",
			Help: "Total number of signaling messages relayed",
		}, []string{"type"}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "heartline_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		callSetupTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "heartline_call_setup_duration_seconds",
			Help:    "Time from call creation to active media",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),

		networkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "heartline_network_latency_seconds",
			Help:    "Round-trip time observed on call connections",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		callQualityScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heartline_call_quality_score",
			Help: "Quality score of calls (0-100)",
		}, []string{"call_id"}),

		callBitrate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heartline_call_bitrate_bps",
			Help: "Current inbound bitrate of calls in bits per second",
		}, []string{"call_id"}),

		callPacketsLost: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heartline_call_packets_lost",
			Help: "Packets lost in the last sampling interval",
		}, []string{"call_id"}),
	}
}

// ObserveStateChange updates gauges and counters on every call-state
// transition. It implements services.CallMetrics.
func (p *PrometheusCollector) ObserveStateChange(call *domain.Call) {
	switch call.Status {
	case domain.CallStatusActive:
		p.callsActiveTotal.Inc()
		p.callSetupTime.Observe(time.Since(call.CreatedAt).Seconds())
	case domain.CallStatusEnded, domain.CallStatusRejected, domain.CallStatusMissed, domain.CallStatusFailed:
		if call.StartedAt != nil {
			p.callsActiveTotal.Dec()
			p.callDuration.Observe(float64(call.Duration()))
		}
		p.callsTotal.WithLabelValues(string(call.Status), string(call.Type)).Inc()
		p.cleanupCall(call.ID)
	}
}

// ObserveQuality records the latest quality sample for a call. It
// implements services.CallMetrics.
func (p *PrometheusCollector) ObserveQuality(callID domain.CallID, sample domain.QualitySample) {
	p.callQualityScore.WithLabelValues(string(callID)).Set(float64(sample.Score))
	p.callBitrate.WithLabelValues(string(callID)).Set(float64(sample.Stats.Bitrate))
	p.callPacketsLost.WithLabelValues(string(callID)).Set(float64(sample.Stats.PacketsLost))
	p.networkLatency.Observe(sample.Stats.RTT.Seconds())
}

// RecordSignal counts a relayed signaling message by type.
func (p *PrometheusCollector) RecordSignal(messageType string) {
	p.signalsTotal.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) cleanupCall(callID domain.CallID) {
	p.callQualityScore.DeleteLabelValues(string(callID))
	p.callBitrate.DeleteLabelValues(string(callID))
	p.callPacketsLost.DeleteLabelValues(string(callID))
}
