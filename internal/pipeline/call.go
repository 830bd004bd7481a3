package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"voicelink/internal/audio"
	"voicelink/internal/network"
)

// Call wires a live conversation: the send path (capture → encode →
// session) and the receive path (session → decode → playback), each on its
// own goroutine, sharing one session.
type Call struct {
	cfg      audio.Config
	log      *log.Logger
	capture  *audio.Capture
	codec    *audio.Codec
	playback *audio.Playback
	session  *network.Session
}

// NewCall builds the audio components around an already-connected session.
func NewCall(cfg audio.Config, session *network.Session) (*Call, error) {
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
	return &Call{
		cfg:      cfg,
		log:      log.Default().WithPrefix("call"),
		capture:  capture,
		codec:    codec,
		playback: playback,
		session:  session,
	}, nil
}

// Run drives both directions until the context is cancelled or either path
// hits an error that ends the call (peer disconnect, device loss). The
// returned error describes why the call ended; context cancellation returns
// nil.
func (c *Call) Run(ctx context.Context) error {
	if err := c.playback.Start(); err != nil {
		return err
	}
	time.Sleep(startupPause)
	if err := c.capture.Start(); err != nil {
		c.playback.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- c.sendLoop(ctx) }()
	go func() { errCh <- c.recvLoop(ctx) }()

	err := <-errCh
	cancel()
	<-errCh

	c.capture.Stop()
	time.Sleep(drainPause)
	c.playback.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sendLoop pushes captured frames through the codec to the peer.
func (c *Call) sendLoop(ctx context.Context) error {
	for {
		frame, err := c.capture.NextFrame(ctx)
		if err != nil {
			return err
		}

		compressed, err := c.codec.Encode(frame)
		if err != nil {
			// Per-frame failure: drop and continue.
			c.log.Warn("encode failed", "seq", frame.Sequence, "err", err)
			continue
		}

		if err := c.session.SendAudio(compressed); err != nil {
			if network.Recoverable(err) {
				continue
			}
			return err
		}
	}
}

// recvLoop pulls ordered frames from the session and plays them.
func (c *Call) recvLoop(ctx context.Context) error {
	for {
		compressed, err := c.session.ReceiveAudio(ctx)
		if err != nil {
			if network.Recoverable(err) {
				continue
			}
			return err
		}

		frame, err := c.codec.Decode(compressed)
		if err != nil {
			c.log.Warn("decode failed", "seq", compressed.Sequence, "err", err)
			continue
		}

		if err := c.playback.PlayFrame(frame); err != nil {
			// Overflow drops the oldest frame but playback continues.
			if !errors.Is(err, audio.ErrBufferOverflow) {
				return err
			}
		}
	}
}

// FlushPlayback clears queued output; used around reconnects.
func (c *Call) FlushPlayback() {
	c.playback.FlushBuffer()
}
