// Package audio implements the local half of the voice pipeline: frame
// types, the Opus codec, microphone capture, and speaker playback.
package audio

import (
	"fmt"
	"time"
)

// Default parameter values. 48 kHz mono with 20 ms frames is the standard
// VoIP operating point and keeps one frame at exactly 960 samples.
const (
	DefaultSampleRate      = 48000
	DefaultChannels        = 1
	DefaultFrameDurationMs = 20
	DefaultBitrate         = 32000
	DefaultComplexity      = 5
	DefaultReceiveBuffer   = 3 // frames queued ahead of playback ≈ 60 ms
)

// MaxCompressedFrameBytes is the largest Opus packet we ever expect for one
// frame (RFC 6716 maximum).
const MaxCompressedFrameBytes = 1275

// Config holds every tunable of the audio path. It is immutable after
// construction; components take a copy at creation time.
type Config struct {
	// SampleRate in Hz, 8000–48000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is 1 (mono) or 2 (stereo, interleaved).
	Channels int `yaml:"channels"`

	// FrameDurationMs is the duration of one frame, 10–60 ms.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// Bitrate is the Opus target in bits per second, 6000–128000.
	Bitrate int `yaml:"bitrate"`

	// Complexity is the Opus encoder effort, 0 (fast) to 10 (best).
	Complexity int `yaml:"complexity"`

	// ReceiveBufferSize is the playback queue depth in frames.
	ReceiveBufferSize int `yaml:"receive_buffer_size"`
}

// DefaultConfig returns the standard voice configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:        DefaultSampleRate,
		Channels:          DefaultChannels,
		FrameDurationMs:   DefaultFrameDurationMs,
		Bitrate:           DefaultBitrate,
		Complexity:        DefaultComplexity,
		ReceiveBufferSize: DefaultReceiveBuffer,
	}
}

// LowLatencyConfig trades compression efficiency for latency: shorter frames,
// a shallower playback queue, and a cheaper encoder.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameDurationMs = 10
	cfg.ReceiveBufferSize = 2
	cfg.Complexity = 3
	return cfg
}

// HighQualityConfig raises the bitrate and encoder effort and deepens the
// playback queue for stability on lossy links.
func HighQualityConfig() Config {
	cfg := DefaultConfig()
	cfg.Bitrate = 64000
	cfg.Complexity = 8
	cfg.ReceiveBufferSize = 5
	return cfg
}

// SamplesPerFrame returns the per-channel sample count of one frame.
func (c Config) SamplesPerFrame() int {
	return c.SampleRate * c.FrameDurationMs / 1000
}

// FrameSamples returns the total sample count of one frame across channels.
func (c Config) FrameSamples() int {
	return c.SamplesPerFrame() * c.Channels
}

// FrameBytes returns the raw size of one frame (float32 samples).
func (c Config) FrameBytes() int {
	return c.FrameSamples() * 4
}

// FrameDuration returns FrameDurationMs as a time.Duration.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}

// TheoreticalLatency is the floor on capture-to-playback latency implied by
// the frame duration and the playback queue depth.
func (c Config) TheoreticalLatency() time.Duration {
	return c.FrameDuration() * time.Duration(1+c.ReceiveBufferSize)
}

// Validate checks every field against its allowed range.
func (c Config) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return &ConfigError{Reason: fmt.Sprintf("sample rate %d outside [8000, 48000]", c.SampleRate)}
	}
	if c.Channels != 1 && c.Channels != 2 {
		return &ConfigError{Reason: fmt.Sprintf("channels %d (must be 1 or 2)", c.Channels)}
	}
	if c.FrameDurationMs < 10 || c.FrameDurationMs > 60 {
		return &ConfigError{Reason: fmt.Sprintf("frame duration %dms outside [10, 60]", c.FrameDurationMs)}
	}
	if c.Bitrate < 6000 || c.Bitrate > 128000 {
		return &ConfigError{Reason: fmt.Sprintf("bitrate %d outside [6000, 128000]", c.Bitrate)}
	}
	if c.Complexity < 0 || c.Complexity > 10 {
		return &ConfigError{Reason: fmt.Sprintf("complexity %d outside [0, 10]", c.Complexity)}
	}
	if c.ReceiveBufferSize < 1 {
		return &ConfigError{Reason: "receive buffer size must be at least 1"}
	}
	return nil
}
