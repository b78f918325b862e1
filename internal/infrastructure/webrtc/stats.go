package webrtc

import (
	"fmt"
	"sync"
	"time"

	"heartline/internal/core/domain"
	"heartline/pkg/optimize"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// statsSource reads raw connection metrics for quality sampling.
// Bitrate comes from inbound byte deltas over the sampling interval,
// RTT from the succeeded candidate pair, loss and jitter from the
// stats report with RTCP receiver reports as fallback. Reads are
// side-effect-free with respect to the connection.
type statsSource struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	prevBytes uint64
	prevAt    time.Time

	// Latest observations parsed from RTCP and remote RTP reads.
	rtpBytes   uint64
	rtcpLost   int
	rtcpJitter time.Duration
	rtcpRTT    time.Duration
	rtcpSeen   bool
}

func newStatsSource(pc *webrtc.PeerConnection) *statsSource {
	return &statsSource{pc: pc, prevAt: time.Now()}
}

func (s *statsSource) ReadStats() (domain.NetworkStats, error) {
	if s.pc == nil {
		return domain.NetworkStats{}, fmt.Errorf("no peer connection")
	}

	report := s.pc.GetStats()

	var bytesReceived uint64
	var packetsLost int
	var jitter, rtt time.Duration
	sawInbound := false

	for _, stat := range report {
		switch v := stat.(type) {
		case webrtc.InboundRTPStreamStats:
			bytesReceived += v.BytesReceived
			packetsLost += int(v.PacketsLost)
			if j := time.Duration(v.Jitter * float64(time.Second)); j > jitter {
				jitter = j
			}
			sawInbound = true
		case webrtc.ICECandidatePairStats:
			if v.State == webrtc.StatsICECandidatePairStateSucceeded {
				rtt = time.Duration(v.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !sawInbound {
		// Stats interceptor unavailable: fall back to the byte count
		// of the remote track reader and RTCP observations.
		bytesReceived = s.rtpBytes
		if !s.rtcpSeen && bytesReceived == 0 {
			return domain.NetworkStats{}, fmt.Errorf("statistics unavailable")
		}
		packetsLost = s.rtcpLost
		jitter = s.rtcpJitter
	}
	if rtt == 0 {
		rtt = s.rtcpRTT
	}

	now := time.Now()
	elapsed := now.Sub(s.prevAt)
	bitrate := 0
	if elapsed > 0 && bytesReceived >= s.prevBytes {
		bitrate = int(float64(bytesReceived-s.prevBytes) * 8 / elapsed.Seconds())
	}
	s.prevBytes = bytesReceived
	s.prevAt = now

	return domain.NetworkStats{
		Bitrate:     bitrate,
		PacketsLost: packetsLost,
		RTT:         rtt,
		Jitter:      jitter,
	}, nil
}

// rtpBufPool recycles read buffers across the per-track reader goroutines.
var rtpBufPool = optimize.NewBytePool(1500) // MTU size

// readRemoteTrack drains RTP from the remote track, counting inbound
// bytes. The loop exits when the track closes with the connection.
func (s *statsSource) readRemoteTrack(track *webrtc.TrackRemote, logger *zap.SugaredLogger) {
	buf := rtpBufPool.Get()
	defer rtpBufPool.Put(buf)
	packet := &rtp.Packet{}

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			logger.Debugw("error unmarshaling RTP packet", "track_id", track.ID(), "error", err)
			continue
		}

		s.mu.Lock()
		s.rtpBytes += uint64(n)
		s.mu.Unlock()
	}
}

// readRTCP parses receiver reports from the receiver to extract loss,
// jitter and RTT observations.
func (s *statsSource) readRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		s.observeRTCP(packets)
	}
}

func (s *statsSource) observeRTCP(packets []rtcp.Packet) {
	var lost int
	var jitter time.Duration
	var rtt time.Duration
	seen := false

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				lost += int(report.FractionLost)
				if j := time.Duration(report.Jitter) * time.Millisecond; j > jitter {
					jitter = j
				}
				if report.LastSenderReport != 0 && report.Delay != 0 {
					rtt = time.Duration(report.Delay) * time.Second / 65536
				}
				seen = true
			}
		case *rtcp.TransportLayerNack:
			lost += len(p.Nacks)
			seen = true
		}
	}

	if !seen {
		return
	}
	s.mu.Lock()
	s.rtcpLost = lost
	if jitter > 0 {
		s.rtcpJitter = jitter
	}
	if rtt > 0 {
		s.rtcpRTT = rtt
	}
	s.rtcpSeen = true
	s.mu.Unlock()
}
