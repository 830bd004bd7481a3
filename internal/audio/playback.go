package audio

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
)

// Playback consumes raw frames into the default output device.
//
// PlayFrame enqueues onto a bounded queue (capacity ReceiveBufferSize); a
// dedicated goroutine pops frames and writes them to the PortAudio stream.
// The stream loop follows the same discipline as capture: TryLock only,
// never waiting on the control plane. When the queue runs dry it writes
// silence and counts an underrun rather than stalling the device.
type Playback struct {
	mu  sync.Mutex
	cfg Config
	log *log.Logger

	stream *portaudio.Stream
	queue  *frameQueue

	overflows atomic.Uint64
	underruns atomic.Uint64
	played    atomic.Uint64
	running   atomic.Bool
	wg        sync.WaitGroup
}

// NewPlayback returns an idle Playback. Start acquires the device.
func NewPlayback(cfg Config) (*Playback, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{
		cfg:   cfg,
		log:   log.Default().WithPrefix("playback"),
		queue: newFrameQueue(cfg.ReceiveBufferSize),
	}, nil
}

// Start initializes PortAudio, opens the output stream, and launches the
// playback goroutine. Idempotent.
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return &InitError{Component: "playback", Err: err}
	}

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		portaudio.Terminate()
		return ErrNoDevice
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: p.cfg.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(p.cfg.SampleRate),
		FramesPerBuffer: p.cfg.SamplesPerFrame(),
	}

	// Same format strategy as capture: float32 first, int16 fallback.
	buf := make([]Sample, p.cfg.FrameSamples())
	var intBuf []int16
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		intBuf = make([]int16, p.cfg.FrameSamples())
		stream, err = portaudio.OpenStream(params, intBuf)
		if err != nil {
			portaudio.Terminate()
			return &InitError{Component: "playback", Err: err}
		}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return &InitError{Component: "playback", Err: err}
	}

	p.stream = stream
	p.running.Store(true)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.playbackLoop(buf, intBuf)
	}()

	p.log.Info("started", "device", dev.Name,
		"queue_frames", p.cfg.ReceiveBufferSize, "int16", intBuf != nil)
	return nil
}

// playbackLoop writes one frame per cycle, substituting silence when the
// queue has nothing for us. intBuf is non-nil on the int16 fallback path.
func (p *Playback) playbackLoop(buf []Sample, intBuf []int16) {
	for p.running.Load() {
		if f, ok := p.queue.tryPop(); ok {
			copy(buf, f.Samples)
			// Short frame (should not happen on the critical path): pad out.
			for i := len(f.Samples); i < len(buf); i++ {
				buf[i] = 0
			}
			p.played.Add(1)
		} else {
			for i := range buf {
				buf[i] = 0
			}
			p.underruns.Add(1)
		}

		if intBuf != nil {
			Float32ToInt16(intBuf, buf)
		}

		if err := p.stream.Write(); err != nil {
			if p.running.Load() {
				p.log.Error("write", "err", err)
			}
			return
		}
	}
}

// PlayFrame queues a frame for output. When the queue is full the oldest
// frame is dropped, the new one is still queued, and ErrBufferOverflow is
// returned so the caller can count it; playback keeps going either way.
func (p *Playback) PlayFrame(f Frame) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	if err := p.queue.push(f); err != nil {
		p.overflows.Add(1)
		return err
	}
	return nil
}

// FlushBuffer discards all queued frames; used around reconnects so stale
// audio does not bleed into the new session.
func (p *Playback) FlushBuffer() {
	p.queue.flush()
}

// BufferLevel returns the current queue depth in frames.
func (p *Playback) BufferLevel() int {
	return p.queue.level()
}

// Stop halts the stream and releases the device. Idempotent. Same shutdown
// ordering as Capture: stop first to unblock Write, wait, then close.
func (p *Playback) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	p.mu.Lock()
	if p.stream != nil {
		p.stream.Stop()
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	p.mu.Unlock()

	p.queue.flush()
	portaudio.Terminate()
	p.log.Info("stopped", "underruns", p.underruns.Load(), "overflows", p.overflows.Load())
}

// IsPlaying reports whether the output stream is live.
func (p *Playback) IsPlaying() bool {
	return p.running.Load()
}

// Underruns returns the number of silent cycles inserted so far.
func (p *Playback) Underruns() uint64 {
	return p.underruns.Load()
}

// Overflows returns the number of oldest-frame drops so far.
func (p *Playback) Overflows() uint64 {
	return p.overflows.Load()
}

// FramesPlayed returns the number of frames written to the device.
func (p *Playback) FramesPlayed() uint64 {
	return p.played.Load()
}
