package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCaptureRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 3
	if _, err := NewCapture(cfg); err == nil {
		t.Error("expected config error")
	}
}

func TestNextFrameBeforeStart(t *testing.T) {
	c, err := NewCapture(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.NextFrame(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

// TestCaptureStartStop needs a real input device; it skips cleanly on
// machines without one.
func TestCaptureStartStop(t *testing.T) {
	c, err := NewCapture(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Start(); err != nil {
		t.Skipf("no capture device: %v", err)
	}
	if !c.IsRecording() {
		t.Error("should be recording after start")
	}

	// Idempotent start.
	if err := c.Start(); err != nil {
		t.Errorf("second start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := c.NextFrame(ctx)
	if err != nil {
		t.Fatalf("next frame: %v", err)
	}
	if want := DefaultConfig().FrameSamples(); len(frame.Samples) != want {
		t.Errorf("frame has %d samples, want %d", len(frame.Samples), want)
	}
	if frame.Sequence == 0 {
		t.Error("sequence should start at 1")
	}

	c.Stop()
	if c.IsRecording() {
		t.Error("should not be recording after stop")
	}
	// Idempotent stop.
	c.Stop()

	// The channel drains and then reports disconnection.
	for {
		_, err := c.NextFrame(context.Background())
		if err != nil {
			if !errors.Is(err, ErrDeviceDisconnected) {
				t.Errorf("err = %v, want ErrDeviceDisconnected", err)
			}
			break
		}
	}
}
