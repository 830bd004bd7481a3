package network

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newBoundPair binds two UDP transports on ephemeral ports with fast
// test timeouts.
func newBoundPair(t *testing.T) (*UDPTransport, *UDPTransport) {
	t.Helper()
	cfg := TestConfig()

	a, err := NewUDPTransport(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Bind(0))
	t.Cleanup(func() { a.Shutdown() })

	b, err := NewUDPTransport(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Bind(0))
	t.Cleanup(func() { b.Shutdown() })

	return a, b
}

func TestUDPTransportLifecycle(t *testing.T) {
	tr, err := NewUDPTransport(TestConfig())
	require.NoError(t, err)

	require.False(t, tr.IsActive())
	require.Nil(t, tr.LocalAddr())

	require.NoError(t, tr.Bind(0))
	require.True(t, tr.IsActive())
	require.NotNil(t, tr.LocalAddr())
	require.NotZero(t, tr.LocalAddr().Port)

	// Double bind fails.
	err = tr.Bind(0)
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)

	require.NoError(t, tr.Shutdown())
	require.False(t, tr.IsActive())
	require.Zero(t, tr.Stats().PacketsSent)
}

func TestUDPSendReceive(t *testing.T) {
	a, b := newBoundPair(t)

	sent := NewAudioPacket(testFrame([]byte{1, 2, 3, 4}, 7), 11, 22)
	require.NoError(t, a.SendPacket(&sent, localhostAddr(b)))

	got, src, err := b.ReceivePacket()
	require.NoError(t, err)
	require.Equal(t, PacketAudio, got.Type)
	require.Equal(t, uint32(11), got.SenderID)
	require.Equal(t, uint64(7), got.Frame.Sequence)
	require.Equal(t, []byte{1, 2, 3, 4}, got.Frame.Data)
	require.Equal(t, a.LocalAddr().Port, src.Port)

	require.Equal(t, uint64(1), a.Stats().PacketsSent)
	require.Equal(t, uint64(1), b.Stats().PacketsReceived)
}

func TestUDPReceiveTimeout(t *testing.T) {
	_, b := newBoundPair(t)

	start := time.Now()
	_, _, err := b.ReceivePacket()
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestUDPPacketTooLarge(t *testing.T) {
	a, b := newBoundPair(t)

	// Exactly at the limit: header + payload == MaxPacketSize is fine.
	fits := NewAudioPacket(testFrame(make([]byte, MaxPacketSize-packetHeaderSize), 1), 1, 1)
	require.NoError(t, a.SendPacket(&fits, localhostAddr(b)))

	// One byte over is rejected before hitting the socket.
	over := NewAudioPacket(testFrame(make([]byte, MaxPacketSize-packetHeaderSize+1), 2), 1, 1)
	err := a.SendPacket(&over, localhostAddr(b))
	var tooLarge *PacketTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, MaxPacketSize+1, tooLarge.Size)
}

func TestUDPRejectsCorruption(t *testing.T) {
	a, b := newBoundPair(t)

	p := NewAudioPacket(testFrame([]byte{1, 2, 3, 4}, 1), 1, 1)
	data := p.Marshal()
	data[20] ^= 0xFF // flip sample-count bits; checksum no longer matches

	// Inject the mangled bytes through the raw socket, bypassing SendPacket's
	// checksum stamping.
	_, err := a.conn.WriteToUDP(data, localhostAddr(b))
	require.NoError(t, err)

	_, _, err = b.ReceivePacket()
	var corrupted *CorruptedPacketError
	require.ErrorAs(t, err, &corrupted)
	require.Equal(t, uint64(1), b.Stats().PacketsCorrupted)
}

func TestUDPRejectsWrongVersion(t *testing.T) {
	a, b := newBoundPair(t)

	p := NewAudioPacket(testFrame([]byte{1, 2, 3, 4}, 1), 1, 1)
	data := p.Marshal()
	data[0] = 9 // future protocol version

	_, err := a.conn.WriteToUDP(data, localhostAddr(b))
	require.NoError(t, err)

	_, _, err = b.ReceivePacket()
	var invalid *InvalidFormatError
	require.ErrorAs(t, err, &invalid)
}

func TestUDPRejectsGarbage(t *testing.T) {
	a, b := newBoundPair(t)

	_, err := a.conn.WriteToUDP([]byte("not a packet"), localhostAddr(b))
	require.NoError(t, err)

	_, _, err = b.ReceivePacket()
	var invalid *InvalidFormatError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, uint64(1), b.Stats().PacketsRejected)
}

func TestSendBeforeBind(t *testing.T) {
	tr, err := NewUDPTransport(TestConfig())
	require.NoError(t, err)

	p := NewHeartbeatPacket(1, 1)
	err = tr.SendPacket(&p, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
	var stateErr *InvalidStateError
	require.True(t, errors.As(err, &stateErr))

	_, _, err = tr.ReceivePacket()
	require.True(t, errors.As(err, &stateErr))
}

// localhostAddr returns a 127.0.0.1 address for the transport's bound port,
// since LocalAddr reports the wildcard IP.
func localhostAddr(tr *UDPTransport) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: tr.LocalAddr().Port}
}
