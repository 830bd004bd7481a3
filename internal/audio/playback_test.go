package audio

import (
	"errors"
	"testing"
)

func TestPlaybackRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReceiveBufferSize = 0
	if _, err := NewPlayback(cfg); err == nil {
		t.Error("expected config error")
	}
}

func TestPlayFrameBeforeStart(t *testing.T) {
	p, err := NewPlayback(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.PlayFrame(Silence(960, 1)); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

// TestPlaybackStartStop needs a real output device; it skips cleanly on
// machines without one.
func TestPlaybackStartStop(t *testing.T) {
	cfg := DefaultConfig()
	p, err := NewPlayback(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Start(); err != nil {
		t.Skipf("no playback device: %v", err)
	}
	if !p.IsPlaying() {
		t.Error("should be playing after start")
	}
	if err := p.Start(); err != nil {
		t.Errorf("second start: %v", err)
	}

	// Feed a few silent frames; the stream loop consumes them.
	for i := uint64(1); i <= 3; i++ {
		if err := p.PlayFrame(Silence(cfg.FrameSamples(), i)); err != nil &&
			!errors.Is(err, ErrBufferOverflow) {
			t.Fatalf("play frame: %v", err)
		}
	}

	if level := p.BufferLevel(); level > cfg.ReceiveBufferSize {
		t.Errorf("buffer level %d exceeds capacity %d", level, cfg.ReceiveBufferSize)
	}

	p.FlushBuffer()

	p.Stop()
	if p.IsPlaying() {
		t.Error("should not be playing after stop")
	}
	p.Stop()
}
