package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
)

// captureQueueDepth bounds the capture channel. 10 frames = 200 ms at the
// default frame duration; anything the consumer hasn't drained by then is
// stale enough to drop.
const captureQueueDepth = 10

// Capture produces raw frames from the default input device.
//
// A dedicated goroutine blocks on the PortAudio stream, mirroring the
// hardware callback: it owns a pre-sized scratch buffer, never allocates per
// sample, and hands frames to the control plane through a bounded channel
// with a non-blocking send. When the channel is full the newest frame is
// dropped — blocking here would underrun the device.
type Capture struct {
	mu  sync.Mutex
	cfg Config
	log *log.Logger

	stream *portaudio.Stream
	frames chan Frame

	seq     atomic.Uint64
	drops   atomic.Uint64
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewCapture returns an idle Capture. Start acquires the device.
func NewCapture(cfg Config) (*Capture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Capture{
		cfg: cfg,
		log: log.Default().WithPrefix("capture"),
	}, nil
}

// Start initializes PortAudio, opens the input stream, and launches the
// capture goroutine. Calling Start on a running Capture is a no-op.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return &InitError{Component: "capture", Err: err}
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return ErrNoDevice
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: c.cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.cfg.SampleRate),
		FramesPerBuffer: c.cfg.SamplesPerFrame(),
	}

	// Prefer the native float32 path; fall back to int16 with conversion
	// when the device will not open in float.
	buf := make([]Sample, c.cfg.FrameSamples())
	var intBuf []int16
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		intBuf = make([]int16, c.cfg.FrameSamples())
		stream, err = portaudio.OpenStream(params, intBuf)
		if err != nil {
			portaudio.Terminate()
			return &InitError{Component: "capture", Err: err}
		}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return &InitError{Component: "capture", Err: err}
	}

	c.stream = stream
	c.frames = make(chan Frame, captureQueueDepth)
	c.running.Store(true)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.captureLoop(buf, intBuf)
	}()

	c.log.Info("started", "device", dev.Name,
		"samples_per_frame", c.cfg.SamplesPerFrame(), "int16", intBuf != nil)
	return nil
}

// captureLoop reads one frame's worth of samples per iteration. The scratch
// buffers belong to the stream, so each produced frame copies out of them.
// intBuf is non-nil on the int16 fallback path.
func (c *Capture) captureLoop(buf []Sample, intBuf []int16) {
	defer close(c.frames)

	for c.running.Load() {
		if err := c.stream.Read(); err != nil {
			if c.running.Load() {
				c.log.Error("read", "err", err)
			}
			return
		}

		samples := make([]Sample, len(buf))
		if intBuf != nil {
			Int16ToFloat32(samples, intBuf)
		} else {
			copy(samples, buf)
		}

		frame := NewFrame(samples, c.seq.Add(1))

		select {
		case c.frames <- frame:
		default:
			// Queue full: drop this (newest) frame to preserve freshness.
			c.drops.Add(1)
		}
	}
}

// Stop halts the stream and releases the device. Stop on an idle Capture is
// a no-op.
//
// Pa_StopStream unblocks any in-flight Read, which lets the goroutine exit;
// only after it has exited is the native stream object freed.
func (c *Capture) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	if c.stream != nil {
		c.stream.Stop()
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	c.mu.Unlock()

	portaudio.Terminate()
	c.log.Info("stopped", "drops", c.drops.Load())
}

// NextFrame returns the next captured frame, blocking until one is ready.
// It fails with ErrDeviceDisconnected once the capture goroutine has exited
// and the queue has drained.
func (c *Capture) NextFrame(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	frames := c.frames
	c.mu.Unlock()
	if frames == nil {
		return Frame{}, ErrNotRunning
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-frames:
		if !ok {
			return Frame{}, ErrDeviceDisconnected
		}
		return f, nil
	}
}

// IsRecording reports whether the capture stream is live.
func (c *Capture) IsRecording() bool {
	return c.running.Load()
}

// Drops returns the number of frames dropped on the capture side so far.
func (c *Capture) Drops() uint64 {
	return c.drops.Load()
}
