package network

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSimulated(t *testing.T) *SimulatedTransport {
	t.Helper()
	tr, err := NewSimulatedTransport(TestConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Bind(9001))
	t.Cleanup(func() { tr.Shutdown() })
	return tr
}

func simAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001}
}

func TestSimulatedLoopback(t *testing.T) {
	tr := newSimulated(t)

	sent := NewAudioPacket(testFrame([]byte{5, 6, 7, 8}, 3), 1, 2)
	require.NoError(t, tr.SendPacket(&sent, simAddr()))

	got, addr, err := tr.ReceivePacket()
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.Frame.Sequence)
	require.Equal(t, []byte{5, 6, 7, 8}, got.Frame.Data)
	require.Equal(t, 9001, addr.Port)
}

func TestSimulatedInactive(t *testing.T) {
	tr, err := NewSimulatedTransport(TestConfig())
	require.NoError(t, err)

	p := NewHeartbeatPacket(1, 1)
	err = tr.SendPacket(&p, simAddr())
	var stateErr *InvalidStateError
	require.True(t, errors.As(err, &stateErr))
}

func TestSimulatedLoss(t *testing.T) {
	tr := newSimulated(t)
	tr.SetSimulationParams(SimulationParams{LossRate: 1.0})

	p := NewAudioPacket(testFrame([]byte{1}, 1), 1, 1)
	require.NoError(t, tr.SendPacket(&p, simAddr()))

	require.Zero(t, tr.QueueLen())
	require.Equal(t, uint64(1), tr.Stats().PacketsLost)
}

func TestSimulatedCorruption(t *testing.T) {
	tr := newSimulated(t)
	tr.SetSimulationParams(SimulationParams{CorruptionRate: 1.0})

	p := NewAudioPacket(testFrame([]byte{1, 2, 3}, 1), 1, 1)
	require.NoError(t, tr.SendPacket(&p, simAddr()))

	_, _, err := tr.ReceivePacket()
	var corrupted *CorruptedPacketError
	require.ErrorAs(t, err, &corrupted)
	require.Equal(t, uint64(1), tr.Stats().PacketsCorrupted)
}

func TestSimulatedTimeout(t *testing.T) {
	tr := newSimulated(t)

	start := time.Now()
	_, _, err := tr.ReceivePacket()
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestSimulatedLatency(t *testing.T) {
	// The delivery delay must stay under the staleness limit, or the packet
	// ages out while it waits.
	cfg := TestConfig()
	cfg.MaxPacketAge = 5 * time.Second
	tr, err := NewSimulatedTransport(cfg)
	require.NoError(t, err)
	require.NoError(t, tr.Bind(9001))
	t.Cleanup(func() { tr.Shutdown() })

	tr.SetSimulationParams(SimulationParams{Latency: 50 * time.Millisecond})

	p := NewAudioPacket(testFrame([]byte{1}, 1), 1, 1)
	require.NoError(t, tr.SendPacket(&p, simAddr()))

	start := time.Now()
	_, _, err = tr.ReceivePacket()
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSimulatedStatisticalLoss(t *testing.T) {
	tr := newSimulated(t)
	tr.SetSimulationParams(SimulationParams{LossRate: 0.10})

	const n = 500
	for i := 1; i <= n; i++ {
		p := NewAudioPacket(testFrame([]byte{byte(i)}, uint64(i)), 1, 1)
		require.NoError(t, tr.SendPacket(&p, simAddr()))
	}

	stats := tr.Stats()
	require.Equal(t, uint64(n), stats.PacketsSent)

	delivered := tr.QueueLen()
	// 10% loss on 500 packets: expect ~450 delivered, with generous slack
	// for randomness.
	require.InDelta(t, 450, delivered, 50)
	require.Equal(t, uint64(n-delivered), stats.PacketsLost)
}
