package audio

import (
	"math"
	"testing"
	"time"
)

func TestFrameCreation(t *testing.T) {
	samples := []Sample{0.1, -0.2, 0.3, 0.0}
	f := NewFrame(samples, 42)

	if f.Sequence != 42 {
		t.Errorf("sequence = %d, want 42", f.Sequence)
	}
	if time.Since(f.Timestamp) > 100*time.Millisecond {
		t.Error("timestamp should be recent")
	}
}

func TestSilenceDetection(t *testing.T) {
	silent := NewFrame([]Sample{0.0, 0.001, -0.001, 0.0}, 1)
	noisy := NewFrame([]Sample{0.1, 0.5, -0.3, 0.2}, 2)

	if !silent.IsSilence(0.01) {
		t.Error("near-zero frame should be silence")
	}
	if noisy.IsSilence(0.01) {
		t.Error("loud frame should not be silence")
	}
}

func TestRMS(t *testing.T) {
	f := NewFrame([]Sample{0.5, -0.5, 0.5, -0.5}, 1)
	if rms := f.RMS(); math.Abs(float64(rms)-0.5) > 0.001 {
		t.Errorf("rms = %f, want 0.5", rms)
	}

	if (Frame{}).RMS() != 0 {
		t.Error("empty frame rms should be 0")
	}
}

func TestPeak(t *testing.T) {
	f := NewFrame([]Sample{0.1, -0.8, 0.3}, 1)
	if peak := f.Peak(); peak != 0.8 {
		t.Errorf("peak = %f, want 0.8", peak)
	}
}

func TestApplyGainClamps(t *testing.T) {
	f := NewFrame([]Sample{0.5, -0.5, 0.8}, 1)
	f.ApplyGain(2.0)

	want := []Sample{1.0, -1.0, 1.0}
	for i, s := range f.Samples {
		if s != want[i] {
			t.Errorf("sample %d = %f, want %f", i, s, want[i])
		}
	}
}

func TestMixClamps(t *testing.T) {
	a := NewFrame([]Sample{0.5, 0.9, -0.9}, 1)
	b := NewFrame([]Sample{0.25, 0.9, -0.9}, 2)
	a.MixWith(b)

	want := []Sample{0.75, 1.0, -1.0}
	for i, s := range a.Samples {
		if s != want[i] {
			t.Errorf("sample %d = %f, want %f", i, s, want[i])
		}
	}
}

func TestSilenceFrame(t *testing.T) {
	f := Silence(960, 7)
	if len(f.Samples) != 960 {
		t.Fatalf("len = %d, want 960", len(f.Samples))
	}
	if !f.IsSilence(0.0001) {
		t.Error("silence frame should be silent")
	}
	if f.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", f.Sequence)
	}
}

func TestCompressionRatio(t *testing.T) {
	c := CompressedFrame{Data: []byte{1, 2, 3, 4}, OriginalSampleCount: 960}
	if ratio := c.CompressionRatio(); ratio != 960 {
		t.Errorf("ratio = %f, want 960", ratio)
	}

	empty := CompressedFrame{OriginalSampleCount: 960}
	if ratio := empty.CompressionRatio(); ratio != 1.0 {
		t.Errorf("empty ratio = %f, want 1.0", ratio)
	}
}

func TestCompressedFrameStaleness(t *testing.T) {
	c := CompressedFrame{Timestamp: time.Now()}
	if c.IsStale(time.Second) {
		t.Error("fresh frame must not be stale")
	}

	c.Timestamp = time.Now().Add(-2 * time.Second)
	if !c.IsStale(time.Second) {
		t.Error("old frame must be stale")
	}
}

func TestStatsLossPercentage(t *testing.T) {
	var s Stats
	if s.LossPercentage() != 0 {
		t.Error("zero frames should give 0% loss")
	}

	s.FramesCaptured = 100
	s.FramesLost = 5
	if got := s.LossPercentage(); got != 5.0 {
		t.Errorf("loss = %f, want 5.0", got)
	}

	s.Reset()
	if s.FramesCaptured != 0 || s.FramesLost != 0 {
		t.Error("reset should zero counters")
	}
}
