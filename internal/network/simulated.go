package network

import (
	"math/rand/v2"
	"net"
	"sync"
	"time"
)

// SimulationParams shape the artificial network conditions.
type SimulationParams struct {
	// Latency delays every delivery; Jitter adds a uniform random extra.
	Latency time.Duration
	Jitter  time.Duration

	// LossRate and CorruptionRate are per-packet probabilities in [0, 1].
	// A loss roll drops the packet; a corruption roll flips the checksum so
	// the receive path rejects it.
	LossRate       float64
	CorruptionRate float64
}

// SimulatedTransport implements Transport over an in-memory loopback FIFO.
// Every send is delivered back to the same transport's receive queue, which
// is exactly what the session handshake needs for single-process tests.
//
// Latency is applied as a sleep on the receive path rather than a timed
// release, so measured latencies through it are a lower bound only.
type SimulatedTransport struct {
	cfg    Config
	params SimulationParams

	mu     sync.Mutex
	queue  []queuedPacket
	active bool

	localAddr *net.UDPAddr
	counters  statsCounters
}

type queuedPacket struct {
	packet Packet
	addr   *net.UDPAddr
}

var _ Transport = (*SimulatedTransport)(nil)

// NewSimulatedTransport returns an inactive simulated transport with no
// impairments configured.
func NewSimulatedTransport(cfg Config) (*SimulatedTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &SimulatedTransport{cfg: cfg}
	t.counters.reset()
	return t, nil
}

// SetSimulationParams configures the impairments. Safe to call between
// operations; not synchronized against in-flight sends.
func (t *SimulatedTransport) SetSimulationParams(p SimulationParams) {
	t.params = p
}

// Bind marks the transport active on a loopback address.
func (t *SimulatedTransport) Bind(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return &InvalidStateError{Op: "bind", State: "already bound"}
	}
	t.localAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	t.active = true
	return nil
}

// SendPacket loops the packet back into the internal queue, applying loss
// and corruption rolls.
func (t *SimulatedTransport) SendPacket(p *Packet, addr *net.UDPAddr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return &InvalidStateError{Op: "send", State: "not bound"}
	}

	p.SendTime = time.Now()
	p.Checksum = p.ComputeChecksum()

	if size := p.SerializedSize(); size > MaxPacketSize {
		return &PacketTooLargeError{Size: size, Max: MaxPacketSize}
	}

	t.counters.sent.Add(1)
	t.counters.bytesSent.Add(uint64(p.SerializedSize()))

	if rand.Float64() < t.params.LossRate {
		t.counters.lost.Add(1)
		return nil
	}

	copied := *p
	if len(p.Frame.Data) > 0 {
		copied.Frame.Data = append([]byte(nil), p.Frame.Data...)
	}
	if rand.Float64() < t.params.CorruptionRate {
		copied.Checksum ^= 0xDEADBEEF
	}

	t.queue = append(t.queue, queuedPacket{packet: copied, addr: addr})
	return nil
}

// ReceivePacket pops the next queued packet, waiting up to the configured
// timeout. The same validation as the real transport applies: corrupted
// checksums and stale packets are rejected with typed errors.
func (t *SimulatedTransport) ReceivePacket() (Packet, *net.UDPAddr, error) {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if !active {
		return Packet{}, nil, &InvalidStateError{Op: "receive", State: "not bound"}
	}

	if t.params.Latency > 0 {
		delay := t.params.Latency
		if t.params.Jitter > 0 {
			delay += time.Duration(rand.Int64N(int64(t.params.Jitter)))
		}
		time.Sleep(delay)
	}

	deadline := time.Now().Add(t.cfg.ConnectionTimeout)
	for {
		t.mu.Lock()
		if len(t.queue) > 0 {
			q := t.queue[0]
			t.queue = t.queue[1:]
			t.mu.Unlock()

			if !q.packet.VerifyChecksum() {
				t.counters.corrupted.Add(1)
				return Packet{}, q.addr, &CorruptedPacketError{Addr: q.addr}
			}
			if q.packet.IsStale(t.cfg.MaxPacketAge) {
				t.counters.rejected.Add(1)
				return Packet{}, q.addr, &PacketTooOldError{
					Sequence: q.packet.Frame.Sequence,
					Age:      q.packet.Age(),
				}
			}
			t.counters.received.Add(1)
			return q.packet, q.addr, nil
		}
		t.mu.Unlock()

		if time.Now().After(deadline) {
			return Packet{}, nil, ErrTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Shutdown deactivates the transport, drops queued packets, and resets the
// counters.
func (t *SimulatedTransport) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.queue = nil
	t.localAddr = nil
	t.counters.reset()
	return nil
}

// Stats returns a snapshot of the counters.
func (t *SimulatedTransport) Stats() Stats {
	return t.counters.snapshot()
}

// LocalAddr returns the simulated bound address.
func (t *SimulatedTransport) LocalAddr() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localAddr
}

// IsActive reports whether Bind has been called.
func (t *SimulatedTransport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// QueueLen reports how many packets are waiting. Test helper.
func (t *SimulatedTransport) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
