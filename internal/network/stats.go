package network

import (
	"math"
	"sync/atomic"
	"time"
)

// Stats is a snapshot of transport and session counters. Counters are
// monotonic within a session; Shutdown resets them.
type Stats struct {
	PacketsSent      uint64 `yaml:"packets_sent"`
	PacketsReceived  uint64 `yaml:"packets_received"`
	PacketsLost      uint64 `yaml:"packets_lost"`
	PacketsCorrupted uint64 `yaml:"packets_corrupted"`
	PacketsRejected  uint64 `yaml:"packets_rejected"`

	// AvgRTTMs and AvgJitterMs are EWMA estimates from heartbeat timing.
	AvgRTTMs    float64 `yaml:"avg_rtt_ms"`
	AvgJitterMs float64 `yaml:"avg_jitter_ms"`

	// BandwidthBytesPerSec is the average outgoing data rate since the
	// counters were last reset.
	BandwidthBytesPerSec float64 `yaml:"bandwidth_bytes_per_sec"`

	ReconnectCount uint32        `yaml:"reconnect_count"`
	Uptime         time.Duration `yaml:"uptime"`

	LastUpdated time.Time `yaml:"-"`
}

// LossPercentage is PacketsLost over PacketsSent, in percent.
func (s Stats) LossPercentage() float64 {
	if s.PacketsSent == 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(s.PacketsSent) * 100
}

// CorruptionPercentage is PacketsCorrupted over PacketsReceived, in percent.
func (s Stats) CorruptionPercentage() float64 {
	if s.PacketsReceived == 0 {
		return 0
	}
	return float64(s.PacketsCorrupted) / float64(s.PacketsReceived) * 100
}

// Quality classifies the connection for display.
type Quality int

const (
	QualityExcellent Quality = iota
	QualityGood
	QualityFair
	QualityPoor
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	}
	return "poor"
}

// ConnectionQuality grades the link from loss, corruption, and RTT.
func (s Stats) ConnectionQuality() Quality {
	loss := s.LossPercentage()
	corruption := s.CorruptionPercentage()
	rtt := s.AvgRTTMs

	switch {
	case loss > 10 || corruption > 5 || rtt > 200:
		return QualityPoor
	case loss > 5 || corruption > 2 || rtt > 100:
		return QualityFair
	case loss > 1 || corruption > 0.5 || rtt > 50:
		return QualityGood
	}
	return QualityExcellent
}

// statsCounters is the live, lock-free form of Stats shared between the
// transport goroutines. Floats are stored as bit patterns so the EWMAs can
// live in atomics too.
type statsCounters struct {
	sent      atomic.Uint64
	received  atomic.Uint64
	lost      atomic.Uint64
	corrupted atomic.Uint64
	rejected  atomic.Uint64

	rttBits    atomic.Uint64
	jitterBits atomic.Uint64

	bytesSent atomic.Uint64
	startNano atomic.Int64
}

// reset zeroes every counter and restarts the bandwidth window.
func (s *statsCounters) reset() {
	s.sent.Store(0)
	s.received.Store(0)
	s.lost.Store(0)
	s.corrupted.Store(0)
	s.rejected.Store(0)
	s.rttBits.Store(0)
	s.jitterBits.Store(0)
	s.bytesSent.Store(0)
	s.startNano.Store(time.Now().UnixNano())
}

// observeRTT folds one round-trip sample into the RTT and jitter EWMAs.
func (s *statsCounters) observeRTT(sampleMs float64) {
	old := math.Float64frombits(s.rttBits.Load())
	next := sampleMs
	if old != 0 {
		next = old*0.8 + sampleMs*0.2
	}
	s.rttBits.Store(math.Float64bits(next))

	dev := math.Abs(sampleMs - next)
	oldJ := math.Float64frombits(s.jitterBits.Load())
	nextJ := dev
	if oldJ != 0 {
		nextJ = oldJ*0.8 + dev*0.2
	}
	s.jitterBits.Store(math.Float64bits(nextJ))
}

// snapshot materializes a Stats value.
func (s *statsCounters) snapshot() Stats {
	var bandwidth float64
	if start := s.startNano.Load(); start != 0 {
		elapsed := time.Since(time.Unix(0, start)).Seconds()
		if elapsed > 0 {
			bandwidth = float64(s.bytesSent.Load()) / elapsed
		}
	}
	return Stats{
		PacketsSent:          s.sent.Load(),
		PacketsReceived:      s.received.Load(),
		PacketsLost:          s.lost.Load(),
		PacketsCorrupted:     s.corrupted.Load(),
		PacketsRejected:      s.rejected.Load(),
		AvgRTTMs:             math.Float64frombits(s.rttBits.Load()),
		AvgJitterMs:          math.Float64frombits(s.jitterBits.Load()),
		BandwidthBytesPerSec: bandwidth,
		LastUpdated:          time.Now(),
	}
}
