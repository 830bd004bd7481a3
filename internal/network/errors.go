package network

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors.
var (
	// ErrTimeout means a single receive or send deadline expired with no
	// data. The caller's loop is expected to continue.
	ErrTimeout = errors.New("network: timeout")

	// ErrBufferUnderflow means the receive buffer had nothing to deliver.
	ErrBufferUnderflow = errors.New("network: buffer underflow")
)

// BindError reports a failure to bind the local socket (port in use,
// permission denied). Fatal: there is no point retrying on the same port.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("network: bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConnectionTimeoutError reports that a peer did not complete the handshake
// within the configured window.
type ConnectionTimeoutError struct {
	Addr    *net.UDPAddr
	Timeout time.Duration
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("network: connection to %s timed out after %s", e.Addr, e.Timeout)
}

// PeerDisconnectedError reports that the connected peer went away, either by
// an explicit disconnect packet or by missing heartbeats.
type PeerDisconnectedError struct {
	Addr *net.UDPAddr
}

func (e *PeerDisconnectedError) Error() string {
	return fmt.Sprintf("network: peer %s disconnected", e.Addr)
}

// CorruptedPacketError reports a packet whose checksum did not verify.
type CorruptedPacketError struct {
	Addr *net.UDPAddr
}

func (e *CorruptedPacketError) Error() string {
	return fmt.Sprintf("network: corrupted packet from %s: bad checksum", e.Addr)
}

// PacketTooLargeError reports a serialized packet exceeding the wire limit.
type PacketTooLargeError struct {
	Size int
	Max  int
}

func (e *PacketTooLargeError) Error() string {
	return fmt.Sprintf("network: packet too large: %d bytes (max %d)", e.Size, e.Max)
}

// InvalidFormatError reports bytes that do not parse as a packet, including
// protocol version mismatches.
type InvalidFormatError struct {
	Addr *net.UDPAddr
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("network: invalid packet format from %s", e.Addr)
}

// InvalidSessionError reports a packet carrying a session ID other than the
// one negotiated at handshake — typically a stale retransmit from before a
// reconnect.
type InvalidSessionError struct {
	Received uint32
	Expected uint32
}

func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("network: invalid session id %d (expected %d)", e.Received, e.Expected)
}

// PacketTooOldError reports a packet that exceeded the maximum age.
type PacketTooOldError struct {
	Sequence uint64
	Age      time.Duration
}

func (e *PacketTooOldError) Error() string {
	return fmt.Sprintf("network: packet seq %d too old: %s", e.Sequence, e.Age)
}

// InvalidStateError reports an operation attempted in the wrong connection
// state, e.g. SendAudio while disconnected.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("network: %s invalid in state %s", e.Op, e.State)
}

// ConfigError reports an invalid network configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "network: invalid config: " + e.Reason
}

// Recoverable reports whether err is transient: log it, count it, abandon
// the current operation, and let the next loop iteration proceed.
func Recoverable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrBufferUnderflow) {
		return true
	}
	var (
		corrupted *CorruptedPacketError
		tooOld    *PacketTooOldError
		badFormat *InvalidFormatError
	)
	return errors.As(err, &corrupted) || errors.As(err, &tooOld) || errors.As(err, &badFormat)
}

// RequiresReconnect reports whether err means the session is gone and only
// a fresh handshake can restore it.
func RequiresReconnect(err error) bool {
	var (
		disconnected *PeerDisconnectedError
		connTimeout  *ConnectionTimeoutError
		badSession   *InvalidSessionError
	)
	return errors.As(err, &disconnected) || errors.As(err, &connTimeout) || errors.As(err, &badSession)
}
