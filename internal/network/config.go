package network

import (
	"fmt"
	"time"
)

// Config holds every tunable of the network path. Immutable after
// construction.
type Config struct {
	// LocalPort is the listening port for the answering side.
	LocalPort int `yaml:"local_port"`

	// SocketBufferSize is requested for both socket directions, in bytes.
	SocketBufferSize int `yaml:"socket_buffer_size"`

	// ReceiveBufferSize caps the jitter buffer, in packets.
	ReceiveBufferSize int `yaml:"receive_buffer_size"`

	// ConnectionTimeout bounds the handshake and each socket operation.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	// HeartbeatInterval is the keep-alive send period while connected.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// HeartbeatTimeout is how long without a heartbeat before the peer is
	// declared gone.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// MaxPacketAge is the oldest a packet may be and still be delivered.
	MaxPacketAge time.Duration `yaml:"max_packet_age"`

	// MaxRetryAttempts and RetryDelay govern reconnection.
	MaxRetryAttempts int           `yaml:"max_retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		LocalPort:         9001,
		SocketBufferSize:  65536,
		ReceiveBufferSize: 100, // ~2 s of audio at 20 ms frames
		ConnectionTimeout: 5 * time.Second,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
		MaxPacketAge:      100 * time.Millisecond,
		MaxRetryAttempts:  5,
		RetryDelay:        2 * time.Second,
	}
}

// LANOptimized tightens every timeout for low-latency local links.
func LANOptimized() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 500 * time.Millisecond
	cfg.HeartbeatTimeout = 2 * time.Second
	cfg.MaxPacketAge = 50 * time.Millisecond
	cfg.ConnectionTimeout = 2 * time.Second
	return cfg
}

// WANOptimized loosens timeouts to tolerate internet-scale latency.
func WANOptimized() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 2 * time.Second
	cfg.HeartbeatTimeout = 10 * time.Second
	cfg.MaxPacketAge = 200 * time.Millisecond
	cfg.ConnectionTimeout = 10 * time.Second
	return cfg
}

// TestConfig runs everything on sub-second timers so tests finish fast.
func TestConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 100 * time.Millisecond
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.MaxPacketAge = 50 * time.Millisecond
	cfg.ConnectionTimeout = time.Second
	cfg.MaxRetryAttempts = 2
	cfg.RetryDelay = 100 * time.Millisecond
	return cfg
}

// Validate checks the fields that have hard requirements.
func (c Config) Validate() error {
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return &ConfigError{Reason: fmt.Sprintf("local port %d out of range", c.LocalPort)}
	}
	if c.ReceiveBufferSize < 1 {
		return &ConfigError{Reason: "receive buffer size must be at least 1"}
	}
	if c.ConnectionTimeout <= 0 || c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return &ConfigError{Reason: "timeouts must be positive"}
	}
	if c.MaxPacketAge <= 0 {
		return &ConfigError{Reason: "max packet age must be positive"}
	}
	return nil
}
