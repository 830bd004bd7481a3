package audio

// Stats collects pipeline counters and moving averages. A Stats value is a
// snapshot; the pipeline owns the live copy and hands out clones.
type Stats struct {
	// FramesCaptured and FramesPlayed count frames through each end of the
	// pipeline. FramesLost counts frames the network never delivered.
	FramesCaptured uint64 `yaml:"frames_captured"`
	FramesPlayed   uint64 `yaml:"frames_played"`
	FramesLost     uint64 `yaml:"frames_lost"`

	// AvgRMSLevel is a moving average of frame RMS, for level metering.
	AvgRMSLevel float32 `yaml:"avg_rms_level"`

	// AvgLatencyMs is a moving average of capture-to-playback latency.
	AvgLatencyMs float32 `yaml:"avg_latency_ms"`

	// AvgCompressionRatio is a moving average of codec compression.
	AvgCompressionRatio float32 `yaml:"avg_compression_ratio"`

	// BufferOverflows and BufferUnderruns count playback queue faults. Both
	// are expected under load and are never fatal.
	BufferOverflows uint64 `yaml:"buffer_overflows"`
	BufferUnderruns uint64 `yaml:"buffer_underruns"`

	// CaptureDrops counts frames dropped because the capture queue was full.
	CaptureDrops uint64 `yaml:"capture_drops"`
}

// Reset zeroes all counters and averages.
func (s *Stats) Reset() {
	*s = Stats{}
}

// LossPercentage is FramesLost over FramesCaptured, in percent.
func (s *Stats) LossPercentage() float32 {
	if s.FramesCaptured == 0 {
		return 0
	}
	return float32(s.FramesLost) / float32(s.FramesCaptured) * 100
}
