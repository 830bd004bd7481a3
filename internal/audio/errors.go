package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra data.
var (
	// ErrNoDevice means no usable input or output device was found.
	ErrNoDevice = errors.New("audio: no device found")

	// ErrDeviceDisconnected is returned by NextFrame once the capture side
	// has shut down and no more frames will ever arrive.
	ErrDeviceDisconnected = errors.New("audio: device disconnected")

	// ErrBufferOverflow is returned by PlayFrame when the playback queue was
	// full and the oldest frame was dropped to make room. The new frame was
	// still enqueued; callers may log and continue.
	ErrBufferOverflow = errors.New("audio: playback buffer overflow")

	// ErrBufferUnderrun signals that the playback queue ran dry and silence
	// was substituted.
	ErrBufferUnderrun = errors.New("audio: playback buffer underrun")

	// ErrNotRunning is returned by operations that need a started component.
	ErrNotRunning = errors.New("audio: not running")
)

// ConfigError reports an invalid audio configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "audio: invalid config: " + e.Reason
}

// CodecError wraps a failure inside the Opus encoder or decoder. The affected
// frame is dropped; the pipeline continues with the next one.
type CodecError struct {
	Op  string // "encode", "decode", "init", "reset"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("audio: codec %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// InitError reports a component that failed to acquire its device or stream.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("audio: init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
