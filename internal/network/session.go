package network

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"voicelink/internal/audio"
	"voicelink/internal/jitter"
)

// StateKind enumerates the four connection states.
type StateKind int

const (
	StateDisconnected StateKind = iota
	StateConnecting
	StateConnected
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "error"
}

// ConnectionState is a tagged variant: Kind selects which field group is
// meaningful. Only Connected authorizes SendAudio and ReceiveAudio.
type ConnectionState struct {
	Kind StateKind

	// Connecting.
	Target    *net.UDPAddr
	StartedAt time.Time
	Attempt   int

	// Connected.
	Peer          *net.UDPAddr
	PeerSessionID uint32
	ConnectedAt   time.Time
	LastHeartbeat time.Time

	// Error.
	LastError string
	FailedAt  time.Time
	Retryable bool
}

// IsConnected reports whether the state is Connected.
func (s ConnectionState) IsConnected() bool {
	return s.Kind == StateConnected
}

// PeerAddr returns the relevant remote address: the peer when connected,
// the target while connecting, nil otherwise.
func (s ConnectionState) PeerAddr() *net.UDPAddr {
	switch s.Kind {
	case StateConnected:
		return s.Peer
	case StateConnecting:
		return s.Target
	}
	return nil
}

// Description renders the state for display.
func (s ConnectionState) Description() string {
	switch s.Kind {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return fmt.Sprintf("connecting to %s (attempt %d)", s.Target, s.Attempt)
	case StateConnected:
		return fmt.Sprintf("connected to %s", s.Peer)
	}
	if s.Retryable {
		return fmt.Sprintf("error (retryable): %s", s.LastError)
	}
	return fmt.Sprintf("error: %s", s.LastError)
}

// Session is the connection state machine. It owns the transport, performs
// handshakes, keeps the link alive with heartbeats, and funnels incoming
// audio through the jitter buffer.
//
// The receive path (StartListening for the answering side, ReceiveAudio for
// the calling side) must be driven by one goroutine; the heartbeat runs on
// its own goroutine and only sends.
type Session struct {
	cfg       Config
	log       *log.Logger
	transport Transport

	// senderID identifies this process; sessionID identifies this call.
	// Both are chosen once at construction and ride in every packet.
	senderID  uint32
	sessionID uint32

	seq atomic.Uint64

	mu       sync.Mutex
	state    ConnectionState
	lastPeer *net.UDPAddr

	jbMu sync.Mutex
	jb   *jitter.Buffer[Packet]

	hbMu   sync.Mutex
	hbStop chan struct{}
	hbWG   sync.WaitGroup

	reconnects      atomic.Uint32
	sessionRejected atomic.Uint64
}

// NewSession builds a session over a real UDP transport.
func NewSession(cfg Config) (*Session, error) {
	transport, err := NewUDPTransport(cfg)
	if err != nil {
		return nil, err
	}
	return NewSessionWithTransport(cfg, transport), nil
}

// NewSimulatedSession builds a session over an in-memory transport and
// returns the transport so tests can dial in impairments.
func NewSimulatedSession(cfg Config) (*Session, *SimulatedTransport, error) {
	transport, err := NewSimulatedTransport(cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewSessionWithTransport(cfg, transport), transport, nil
}

// NewSessionWithTransport builds a session over any Transport.
func NewSessionWithTransport(cfg Config, transport Transport) *Session {
	return &Session{
		cfg:       cfg,
		log:       log.Default().WithPrefix("session"),
		transport: transport,
		senderID:  randomID(),
		sessionID: randomID(),
		state:     ConnectionState{Kind: StateDisconnected},
		jb:        jitter.New[Packet](cfg.ReceiveBufferSize),
	}
}

// randomID returns a nonzero random 32-bit identifier.
func randomID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}

// StartListening binds the local port and serves connections until the
// context is cancelled or a fatal error occurs. Each connection runs to
// disconnect (explicit or heartbeat timeout), then the loop returns to
// waiting for the next handshake.
func (s *Session) StartListening(ctx context.Context, port int) error {
	if !s.transport.IsActive() {
		if err := s.transport.Bind(port); err != nil {
			return err
		}
	}
	s.setState(ConnectionState{Kind: StateDisconnected})
	defer s.stopHeartbeat()

	s.log.Info("listening", "port", port)

	for {
		peer, peerSession, err := s.awaitHandshake(ctx)
		if err != nil {
			return err
		}

		s.setConnected(peer, peerSession)
		s.startHeartbeat()
		s.log.Info("peer connected", "peer", peer)

		if err := s.serveConnected(ctx, peer); err != nil {
			return err
		}

		s.stopHeartbeat()
		s.setState(ConnectionState{Kind: StateDisconnected})
		s.log.Info("ready for new connection")
	}
}

// AcceptOne binds the local port and waits for a single incoming
// connection, returning once the handshake completes and the heartbeat is
// running. The caller then drives the session with ReceiveAudio/SendAudio.
func (s *Session) AcceptOne(ctx context.Context, port int) error {
	if !s.transport.IsActive() {
		if err := s.transport.Bind(port); err != nil {
			return err
		}
	}
	s.setState(ConnectionState{Kind: StateDisconnected})

	peer, peerSession, err := s.awaitHandshake(ctx)
	if err != nil {
		return err
	}

	s.setConnected(peer, peerSession)
	s.startHeartbeat()
	s.log.Info("peer connected", "peer", peer)
	return nil
}

// awaitHandshake blocks until a handshake arrives, replies to it, and
// returns the new peer.
func (s *Session) awaitHandshake(ctx context.Context) (*net.UDPAddr, uint32, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		p, src, err := s.transport.ReceivePacket()
		if err != nil {
			if Recoverable(err) {
				continue
			}
			return nil, 0, err
		}
		if p.Type != PacketHandshake {
			continue
		}

		s.setState(ConnectionState{
			Kind:      StateConnecting,
			Target:    src,
			StartedAt: time.Now(),
			Attempt:   1,
		})

		reply := NewHandshakePacket(s.senderID, s.sessionID)
		if err := s.transport.SendPacket(&reply, src); err != nil {
			s.log.Warn("handshake reply failed", "peer", src, "err", err)
			s.setState(ConnectionState{Kind: StateDisconnected})
			continue
		}
		return src, p.SessionID, nil
	}
}

// serveConnected pumps packets from the current peer until disconnect. A
// nil return means the connection ended normally (peer left or timed out)
// and the listener should accept the next one.
func (s *Session) serveConnected(ctx context.Context, peer *net.UDPAddr) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, src, err := s.transport.ReceivePacket()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				if s.heartbeatExpired() {
					s.log.Info("heartbeat timeout", "peer", peer)
					return nil
				}
				continue
			}
			if Recoverable(err) {
				continue
			}
			return err
		}
		if !sameAddr(src, peer) {
			continue
		}

		if err := s.handlePacket(p, src); err != nil {
			var gone *PeerDisconnectedError
			if errors.As(err, &gone) {
				s.log.Info("peer disconnected", "peer", peer)
				return nil
			}
			return err
		}
	}
}

// ConnectToPeer dials addr: binds an ephemeral local port, performs the
// handshake, and starts the heartbeat. Fails with ConnectionTimeoutError
// when the peer does not answer within the configured window.
func (s *Session) ConnectToPeer(ctx context.Context, addr *net.UDPAddr) error {
	return s.connectAttempt(ctx, addr, 1)
}

func (s *Session) connectAttempt(ctx context.Context, addr *net.UDPAddr, attempt int) error {
	if !s.transport.IsActive() {
		// Ephemeral source port; the peer learns it from the handshake.
		port := 10000 + rand.IntN(50001)
		if err := s.transport.Bind(port); err != nil {
			return err
		}
	}

	s.setState(ConnectionState{
		Kind:      StateConnecting,
		Target:    addr,
		StartedAt: time.Now(),
		Attempt:   attempt,
	})

	peerSession, err := s.performHandshake(ctx, addr)
	if err != nil {
		s.setState(ConnectionState{
			Kind:      StateError,
			LastError: err.Error(),
			FailedAt:  time.Now(),
			Retryable: RequiresReconnect(err),
		})
		return err
	}

	s.setConnected(addr, peerSession)
	s.startHeartbeat()
	s.log.Info("connected", "peer", addr)
	return nil
}

// performHandshake sends our handshake and waits for the peer's.
func (s *Session) performHandshake(ctx context.Context, addr *net.UDPAddr) (uint32, error) {
	hs := NewHandshakePacket(s.senderID, s.sessionID)
	if err := s.transport.SendPacket(&hs, addr); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(s.cfg.ConnectionTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		p, src, err := s.transport.ReceivePacket()
		if err != nil {
			if Recoverable(err) {
				continue
			}
			return 0, err
		}
		if !sameAddr(src, addr) {
			continue
		}
		if p.Type == PacketHandshake {
			return p.SessionID, nil
		}
	}

	return 0, &ConnectionTimeoutError{Addr: addr, Timeout: s.cfg.ConnectionTimeout}
}

// SendAudio wraps frame in an audio packet and dispatches it to the
// connected peer. The session assigns the wire sequence number.
func (s *Session) SendAudio(frame audio.CompressedFrame) error {
	s.mu.Lock()
	if s.state.Kind != StateConnected {
		state := s.state.Kind.String()
		s.mu.Unlock()
		return &InvalidStateError{Op: "send_audio", State: state}
	}
	peer := s.state.Peer
	s.mu.Unlock()

	frame.Sequence = s.seq.Add(1)
	p := NewAudioPacket(frame, s.senderID, s.sessionID)
	return s.transport.SendPacket(&p, peer)
}

// ReceiveAudio returns the next in-order audio frame from the peer. It
// drains the jitter buffer first, then pumps the transport — refreshing
// heartbeats, answering handshakes, and watching for disconnects along the
// way. Fails with PeerDisconnectedError on explicit disconnect or heartbeat
// timeout.
func (s *Session) ReceiveAudio(ctx context.Context) (audio.CompressedFrame, error) {
	s.mu.Lock()
	if s.state.Kind != StateConnected {
		state := s.state.Kind.String()
		s.mu.Unlock()
		return audio.CompressedFrame{}, &InvalidStateError{Op: "receive_audio", State: state}
	}
	peer := s.state.Peer
	s.mu.Unlock()

	if p, ok := s.popBuffered(); ok {
		return p.Frame, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return audio.CompressedFrame{}, err
		}

		p, src, err := s.transport.ReceivePacket()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				if s.heartbeatExpired() {
					s.setState(ConnectionState{Kind: StateDisconnected})
					s.stopHeartbeat()
					return audio.CompressedFrame{}, &PeerDisconnectedError{Addr: peer}
				}
				continue
			}
			if Recoverable(err) {
				continue
			}
			return audio.CompressedFrame{}, err
		}
		if !sameAddr(src, peer) {
			continue
		}

		if err := s.handlePacket(p, src); err != nil {
			return audio.CompressedFrame{}, err
		}
		if p.Type == PacketAudio {
			if q, ok := s.popBuffered(); ok {
				return q.Frame, nil
			}
		}
	}
}

// handlePacket dispatches one packet from the connected peer by type.
// Audio, heartbeat and disconnect packets carrying an unexpected session ID
// are discarded and counted — they are stale retransmits from before a
// reconnect.
func (s *Session) handlePacket(p Packet, src *net.UDPAddr) error {
	switch p.Type {
	case PacketAudio:
		if !s.sessionMatches(p.SessionID) {
			s.sessionRejected.Add(1)
			return nil
		}
		s.jbMu.Lock()
		s.jb.Push(p.Frame.Sequence, p)
		s.jbMu.Unlock()

	case PacketHeartbeat:
		if !s.sessionMatches(p.SessionID) {
			s.sessionRejected.Add(1)
			return nil
		}
		s.refreshHeartbeat()

	case PacketHandshake:
		// Duplicate handshake: reply idempotently.
		reply := NewHandshakePacket(s.senderID, s.sessionID)
		if err := s.transport.SendPacket(&reply, src); err != nil {
			s.log.Warn("handshake reply failed", "peer", src, "err", err)
		}

	case PacketDisconnect:
		if !s.sessionMatches(p.SessionID) {
			s.sessionRejected.Add(1)
			return nil
		}
		s.setState(ConnectionState{Kind: StateDisconnected})
		s.stopHeartbeat()
		return &PeerDisconnectedError{Addr: src}
	}
	return nil
}

// popBuffered pops the next in-order packet from the jitter buffer.
func (s *Session) popBuffered() (Packet, bool) {
	s.jbMu.Lock()
	defer s.jbMu.Unlock()
	return s.jb.Pop()
}

// Disconnect leaves the current connection: a best-effort disconnect packet
// to the peer, heartbeat teardown, and a transition to Disconnected. Safe
// to call in any state; a double disconnect is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	var peer *net.UDPAddr
	if s.state.Kind == StateConnected {
		peer = s.state.Peer
	}
	s.state = ConnectionState{Kind: StateDisconnected}
	s.mu.Unlock()

	if peer != nil {
		p := NewDisconnectPacket(s.senderID, s.sessionID)
		if err := s.transport.SendPacket(&p, peer); err != nil {
			s.log.Debug("disconnect send failed", "err", err)
		}
	}
	s.stopHeartbeat()
	if peer != nil {
		s.log.Info("disconnected", "peer", peer)
	}
}

// Reconnect redials the previous peer: disconnect, wait the retry delay,
// connect again, up to MaxRetryAttempts times.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	peer := s.lastPeer
	s.mu.Unlock()
	if peer == nil {
		return &InvalidStateError{Op: "reconnect", State: "no previous peer"}
	}

	s.Disconnect()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetryDelay):
		}

		if err := s.connectAttempt(ctx, peer, attempt); err != nil {
			lastErr = err
			continue
		}
		s.reconnects.Add(1)
		return nil
	}
	return lastErr
}

// ConnectionState returns the current state. Advisory read: on lock
// contention it reports Disconnected rather than blocking.
func (s *Session) ConnectionState() ConnectionState {
	if !s.mu.TryLock() {
		return ConnectionState{Kind: StateDisconnected}
	}
	defer s.mu.Unlock()
	return s.state
}

// NetworkStats merges transport counters with session-level ones.
func (s *Session) NetworkStats() Stats {
	stats := s.transport.Stats()

	s.jbMu.Lock()
	stats.PacketsLost += s.jb.Lost()
	s.jbMu.Unlock()

	stats.PacketsRejected += s.sessionRejected.Load()
	stats.ReconnectCount = s.reconnects.Load()

	s.mu.Lock()
	if s.state.Kind == StateConnected {
		stats.Uptime = time.Since(s.state.ConnectedAt)
	}
	s.mu.Unlock()
	return stats
}

// Transport exposes the underlying transport (for stats and teardown by the
// front-end).
func (s *Session) Transport() Transport {
	return s.transport
}

// Close shuts the session down completely: disconnect plus transport
// teardown.
func (s *Session) Close() {
	s.Disconnect()
	if err := s.transport.Shutdown(); err != nil {
		s.log.Debug("transport shutdown", "err", err)
	}
}

// --- internal state helpers ---

func (s *Session) setState(state ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setConnected(peer *net.UDPAddr, peerSession uint32) {
	now := time.Now()
	s.mu.Lock()
	s.state = ConnectionState{
		Kind:          StateConnected,
		Peer:          peer,
		PeerSessionID: peerSession,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	s.lastPeer = peer
	s.mu.Unlock()
}

func (s *Session) sessionMatches(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Kind == StateConnected && s.state.PeerSessionID == id
}

func (s *Session) refreshHeartbeat() {
	s.mu.Lock()
	if s.state.Kind == StateConnected {
		s.state.LastHeartbeat = time.Now()
	}
	s.mu.Unlock()
}

func (s *Session) heartbeatExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != StateConnected {
		return false
	}
	return time.Since(s.state.LastHeartbeat) > s.cfg.HeartbeatTimeout
}

// startHeartbeat launches the keep-alive goroutine: a ticker loop that
// sends one heartbeat per interval while the state is Connected. The loop
// is cancelled by closing its stop channel, so teardown is prompt.
func (s *Session) startHeartbeat() {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	if s.hbStop != nil {
		return
	}
	stop := make(chan struct{})
	s.hbStop = stop
	s.hbWG.Add(1)
	go func() {
		defer s.hbWG.Done()
		s.heartbeatLoop(stop)
	}()
}

func (s *Session) stopHeartbeat() {
	s.hbMu.Lock()
	stop := s.hbStop
	s.hbStop = nil
	s.hbMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	s.hbWG.Wait()
}

func (s *Session) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			var peer *net.UDPAddr
			if s.state.Kind == StateConnected {
				peer = s.state.Peer
			}
			s.mu.Unlock()
			if peer == nil {
				continue
			}

			p := NewHeartbeatPacket(s.senderID, s.sessionID)
			if err := s.transport.SendPacket(&p, peer); err != nil {
				s.log.Warn("heartbeat send failed", "err", err)
			}
		}
	}
}

// sameAddr compares two UDP addresses by IP and port.
func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
