// Package pipeline wires the audio components together: a loopback path for
// testing the local chain without a network, and a call path that runs the
// send and receive directions over a session.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"voicelink/internal/audio"
)

// startupPause is how long playback gets to settle before capture starts,
// so the output stream is ready when the first frames arrive. drainPause is
// the symmetric wait on shutdown, letting queued frames play out.
const (
	startupPause = 100 * time.Millisecond
	drainPause   = 200 * time.Millisecond
)

// Pipeline is the loopback wiring: capture → encode → decode → playback,
// with per-stage timing folded into Stats.
type Pipeline struct {
	cfg      audio.Config
	log      *log.Logger
	capture  *audio.Capture
	codec    *audio.Codec
	playback *audio.Playback

	statsMu sync.Mutex
	stats   audio.Stats

	running bool
}

// New builds the three components from one config.
func New(cfg audio.Config) (*Pipeline, error) {
	capture, err := audio.NewCapture(cfg)
	if err != nil {
		return nil, err
	}
	codec, err := audio.NewCodec(cfg)
	if err != nil {
		return nil, err
	}
	playback, err := audio.NewPlayback(cfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		log:      log.Default().WithPrefix("pipeline"),
		capture:  capture,
		codec:    codec,
		playback: playback,
	}, nil
}

// Start brings the devices up: playback first, a short pause, then capture.
func (p *Pipeline) Start() error {
	if p.running {
		return nil
	}
	if err := p.playback.Start(); err != nil {
		return err
	}
	time.Sleep(startupPause)
	if err := p.capture.Start(); err != nil {
		p.playback.Stop()
		return err
	}
	p.running = true
	p.log.Info("started", "codec", p.codec.Info())
	return nil
}

// Stop tears the devices down in reverse order, draining playback first.
func (p *Pipeline) Stop() {
	if !p.running {
		return
	}
	p.capture.Stop()
	time.Sleep(drainPause)
	p.playback.Stop()
	p.running = false
	p.log.Info("stopped")
}

// ProcessFrame runs one frame through the full loopback chain.
func (p *Pipeline) ProcessFrame(ctx context.Context) error {
	start := time.Now()

	frame, err := p.capture.NextFrame(ctx)
	if err != nil {
		return err
	}
	p.recordCaptured(frame)

	compressed, err := p.codec.Encode(frame)
	if err != nil {
		return err
	}
	p.recordCompression(compressed.CompressionRatio())

	decoded, err := p.codec.Decode(compressed)
	if err != nil {
		return err
	}

	playErr := p.playback.PlayFrame(decoded)
	p.recordPlayed(float32(time.Since(start).Seconds() * 1000))
	if errors.Is(playErr, audio.ErrBufferOverflow) {
		p.statsMu.Lock()
		p.stats.BufferOverflows++
		p.statsMu.Unlock()
		return nil // overflow is expected under load
	}
	return playErr
}

// RunLoopback runs the loopback chain for the given duration and returns
// the collected stats. You will hear your own voice.
func (p *Pipeline) RunLoopback(ctx context.Context, d time.Duration) (audio.Stats, error) {
	p.ResetStats()

	if err := p.Start(); err != nil {
		return audio.Stats{}, err
	}
	defer p.Stop()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := p.ProcessFrame(ctx); err != nil {
			if errors.Is(err, audio.ErrDeviceDisconnected) || errors.Is(err, context.Canceled) {
				break
			}
			var codecErr *audio.CodecError
			if errors.As(err, &codecErr) {
				// Per-frame codec failure: drop the frame and continue.
				p.log.Warn("frame dropped", "err", err)
				continue
			}
			return p.Stats(), err
		}
	}

	stats := p.Stats()
	stats.CaptureDrops = p.capture.Drops()
	stats.BufferUnderruns = p.playback.Underruns()
	p.log.Info("loopback finished",
		"captured", stats.FramesCaptured,
		"played", stats.FramesPlayed,
		"avg_latency_ms", stats.AvgLatencyMs,
		"avg_rms", stats.AvgRMSLevel)
	return stats, nil
}

// Stats returns a snapshot of the pipeline statistics.
func (p *Pipeline) Stats() audio.Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// ResetStats zeroes the statistics.
func (p *Pipeline) ResetStats() {
	p.statsMu.Lock()
	p.stats.Reset()
	p.statsMu.Unlock()
}

func (p *Pipeline) recordCaptured(f audio.Frame) {
	rms := f.RMS()
	p.statsMu.Lock()
	p.stats.FramesCaptured++
	p.stats.AvgRMSLevel = audioEWMA(p.stats.AvgRMSLevel, rms, p.stats.FramesCaptured == 1)
	p.statsMu.Unlock()
}

func (p *Pipeline) recordPlayed(latencyMs float32) {
	p.statsMu.Lock()
	p.stats.FramesPlayed++
	p.stats.AvgLatencyMs = audioEWMA(p.stats.AvgLatencyMs, latencyMs, p.stats.FramesPlayed == 1)
	p.statsMu.Unlock()
}

func (p *Pipeline) recordCompression(ratio float32) {
	p.statsMu.Lock()
	p.stats.AvgCompressionRatio = audioEWMA(p.stats.AvgCompressionRatio, ratio, p.stats.FramesCaptured <= 1)
	p.statsMu.Unlock()
}

// audioEWMA is the pipeline's 0.9/0.1 moving average, seeded by the first
// sample.
func audioEWMA(avg, sample float32, first bool) float32 {
	if first {
		return sample
	}
	return avg*0.9 + sample*0.1
}
