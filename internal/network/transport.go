package network

import (
	"errors"
	"net"
	"time"

	"github.com/charmbracelet/log"
)

// Transport moves packets between peers. UDPTransport is the real thing;
// SimulatedTransport stands in for tests. Defining the interface here lets
// the session be driven by either.
type Transport interface {
	// Bind creates the local socket. Fails once bound.
	Bind(port int) error

	// SendPacket stamps the send time, recomputes the checksum, serializes,
	// and sends. Fails with PacketTooLargeError above MaxPacketSize.
	SendPacket(p *Packet, addr *net.UDPAddr) error

	// ReceivePacket blocks up to the configured timeout for the next valid
	// packet. Invalid packets (bad version, bad checksum, too old) are
	// rejected with a typed error; the caller's loop decides what to do.
	ReceivePacket() (Packet, *net.UDPAddr, error)

	// Shutdown closes the socket and resets statistics.
	Shutdown() error

	// Stats returns a snapshot of the counters.
	Stats() Stats

	// LocalAddr returns the bound address, or nil before Bind.
	LocalAddr() *net.UDPAddr

	// IsActive reports whether the transport is bound and usable.
	IsActive() bool
}

// UDPTransport is a thin wrapper over a datagram socket with per-call
// deadlines and packet validation.
type UDPTransport struct {
	cfg Config
	log *log.Logger

	conn      *net.UDPConn
	localAddr *net.UDPAddr

	// recvBuf is the pre-sized receive scratch buffer. ReceivePacket is
	// single-goroutine by contract, so no lock is needed.
	recvBuf []byte

	counters statsCounters
}

var _ Transport = (*UDPTransport)(nil)

// NewUDPTransport returns an unbound transport.
func NewUDPTransport(cfg Config) (*UDPTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &UDPTransport{
		cfg:     cfg,
		log:     log.Default().WithPrefix("udp"),
		recvBuf: make([]byte, 2048),
	}
	t.counters.reset()
	return t, nil
}

// Bind opens the socket on 0.0.0.0:port. Port 0 picks an ephemeral port.
func (t *UDPTransport) Bind(port int) error {
	if t.conn != nil {
		return &InvalidStateError{Op: "bind", State: "already bound"}
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return &BindError{Port: port, Err: err}
	}

	// Socket buffer sizing is advisory; the kernel may clamp it.
	if err := conn.SetReadBuffer(t.cfg.SocketBufferSize); err != nil {
		t.log.Warn("set read buffer", "err", err)
	}
	if err := conn.SetWriteBuffer(t.cfg.SocketBufferSize); err != nil {
		t.log.Warn("set write buffer", "err", err)
	}

	t.conn = conn
	t.localAddr = conn.LocalAddr().(*net.UDPAddr)
	t.log.Info("bound", "addr", t.localAddr)
	return nil
}

// SendPacket serializes and transmits p to addr.
func (t *UDPTransport) SendPacket(p *Packet, addr *net.UDPAddr) error {
	conn := t.conn
	if conn == nil {
		return &InvalidStateError{Op: "send", State: "not bound"}
	}

	p.SendTime = time.Now()
	p.Checksum = p.ComputeChecksum()

	data := p.Marshal()
	if len(data) > MaxPacketSize {
		return &PacketTooLargeError{Size: len(data), Max: MaxPacketSize}
	}

	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.ConnectionTimeout)); err != nil {
		return err
	}
	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		return err
	}
	if n != len(data) {
		return errors.New("network: short write")
	}

	t.counters.sent.Add(1)
	t.counters.bytesSent.Add(uint64(n))
	return nil
}

// ReceivePacket waits up to the configured timeout for one valid packet.
func (t *UDPTransport) ReceivePacket() (Packet, *net.UDPAddr, error) {
	conn := t.conn
	if conn == nil {
		return Packet{}, nil, &InvalidStateError{Op: "receive", State: "not bound"}
	}

	if err := conn.SetReadDeadline(time.Now().Add(t.cfg.ConnectionTimeout)); err != nil {
		return Packet{}, nil, err
	}
	n, addr, err := conn.ReadFromUDP(t.recvBuf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return Packet{}, nil, ErrTimeout
		}
		return Packet{}, nil, err
	}

	p, err2 := t.validate(t.recvBuf[:n], addr)
	if err2 != nil {
		return Packet{}, addr, err2
	}

	t.counters.received.Add(1)
	if p.Type == PacketHeartbeat {
		// The heartbeat's age seeds the RTT and jitter estimators. SendTime
		// is stamped at deserialization, so this age covers only local
		// parsing and validation; no network round trip is measured.
		t.counters.observeRTT(float64(p.Age().Microseconds()) / 1000)
	}
	return p, addr, nil
}

// validate parses and checks one datagram.
func (t *UDPTransport) validate(data []byte, addr *net.UDPAddr) (Packet, error) {
	p, ok := Unmarshal(data)
	if !ok {
		t.counters.rejected.Add(1)
		return Packet{}, &InvalidFormatError{Addr: addr}
	}
	if p.Version != ProtocolVersion {
		t.counters.rejected.Add(1)
		return Packet{}, &InvalidFormatError{Addr: addr}
	}
	if !p.VerifyChecksum() {
		t.counters.corrupted.Add(1)
		return Packet{}, &CorruptedPacketError{Addr: addr}
	}
	if p.IsStale(t.cfg.MaxPacketAge) {
		t.counters.rejected.Add(1)
		return Packet{}, &PacketTooOldError{Sequence: p.Frame.Sequence, Age: p.Age()}
	}
	return p, nil
}

// Shutdown closes the socket and resets the counters.
func (t *UDPTransport) Shutdown() error {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.localAddr = nil
	t.counters.reset()
	t.log.Info("shut down")
	return nil
}

// Stats returns a snapshot of the transport counters.
func (t *UDPTransport) Stats() Stats {
	return t.counters.snapshot()
}

// LocalAddr returns the bound address, or nil before Bind.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.localAddr
}

// IsActive reports whether the socket is open.
func (t *UDPTransport) IsActive() bool {
	return t.conn != nil
}
