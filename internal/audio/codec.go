package audio

import (
	"fmt"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

// Codec is a stateful Opus encoder/decoder pair tuned for voice.
//
// Opus instances are not safe for concurrent use, and both the encoder and
// decoder carry prediction state between frames. A single mutex serializes
// Encode and Decode so the send and receive paths can share one Codec.
type Codec struct {
	mu  sync.Mutex
	cfg Config

	enc *opus.Encoder
	dec *opus.Decoder

	// Scratch buffers reused across calls; the mutex makes this safe.
	encBuf []byte
	decBuf []Sample
}

// NewCodec validates cfg and initializes the Opus pair. The encoder runs the
// VoIP application profile with VBR; in-band FEC is available in the encoder
// but stays disabled.
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, &CodecError{Op: "init", Err: err}
	}
	if err := enc.SetBitrate(cfg.Bitrate); err != nil {
		return nil, &CodecError{Op: "init", Err: err}
	}
	if err := enc.SetComplexity(cfg.Complexity); err != nil {
		return nil, &CodecError{Op: "init", Err: err}
	}
	if err := enc.SetInBandFEC(false); err != nil {
		return nil, &CodecError{Op: "init", Err: err}
	}

	dec, err := opus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, &CodecError{Op: "init", Err: err}
	}

	return &Codec{
		cfg:    cfg,
		enc:    enc,
		dec:    dec,
		encBuf: make([]byte, MaxCompressedFrameBytes),
		decBuf: make([]Sample, cfg.FrameSamples()),
	}, nil
}

// Encode compresses one frame. The frame must hold exactly FrameSamples()
// samples — Opus frames are fixed-size so the decoder can allocate an
// exact-length output without the sample count travelling in the payload.
func (c *Codec) Encode(f Frame) (CompressedFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if want := c.cfg.FrameSamples(); len(f.Samples) != want {
		return CompressedFrame{}, &CodecError{
			Op:  "encode",
			Err: fmt.Errorf("frame has %d samples, want %d", len(f.Samples), want),
		}
	}

	n, err := c.enc.EncodeFloat32(f.Samples, c.encBuf)
	if err != nil {
		return CompressedFrame{}, &CodecError{Op: "encode", Err: err}
	}

	data := make([]byte, n)
	copy(data, c.encBuf[:n])

	return CompressedFrame{
		Data:                data,
		OriginalSampleCount: len(f.Samples),
		Timestamp:           f.Timestamp,
		Sequence:            f.Sequence,
	}, nil
}

// Decode reconstructs a raw frame from cf. The output length must equal
// OriginalSampleCount or the frame is rejected as malformed.
func (c *Codec) Decode(cf CompressedFrame) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := cf.OriginalSampleCount
	if want <= 0 {
		return Frame{}, &CodecError{Op: "decode", Err: fmt.Errorf("invalid sample count %d", want)}
	}
	if len(c.decBuf) < want {
		c.decBuf = make([]Sample, want)
	}

	n, err := c.dec.DecodeFloat32(cf.Data, c.decBuf[:want])
	if err != nil {
		return Frame{}, &CodecError{Op: "decode", Err: err}
	}
	if got := n * c.cfg.Channels; got != want {
		return Frame{}, &CodecError{
			Op:  "decode",
			Err: fmt.Errorf("decoded %d samples, want %d", got, want),
		}
	}

	samples := make([]Sample, want)
	copy(samples, c.decBuf[:want])

	return Frame{Samples: samples, Timestamp: cf.Timestamp, Sequence: cf.Sequence}, nil
}

// Reset discards all prediction state by recreating both Opus instances.
// Called after reconnects or long gaps, where stale encoder state would
// distort the first frames.
func (c *Codec) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	enc, err := opus.NewEncoder(c.cfg.SampleRate, c.cfg.Channels, opus.AppVoIP)
	if err != nil {
		return &CodecError{Op: "reset", Err: err}
	}
	if err := enc.SetBitrate(c.cfg.Bitrate); err != nil {
		return &CodecError{Op: "reset", Err: err}
	}
	if err := enc.SetComplexity(c.cfg.Complexity); err != nil {
		return &CodecError{Op: "reset", Err: err}
	}
	if err := enc.SetInBandFEC(false); err != nil {
		return &CodecError{Op: "reset", Err: err}
	}

	dec, err := opus.NewDecoder(c.cfg.SampleRate, c.cfg.Channels)
	if err != nil {
		return &CodecError{Op: "reset", Err: err}
	}

	c.enc = enc
	c.dec = dec
	return nil
}

// Info describes the codec configuration for logs.
func (c *Codec) Info() string {
	return fmt.Sprintf("opus %dHz %dch %dbps complexity %d",
		c.cfg.SampleRate, c.cfg.Channels, c.cfg.Bitrate, c.cfg.Complexity)
}
