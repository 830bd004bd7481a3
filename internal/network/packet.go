// Package network implements the peer-to-peer UDP voice protocol: the wire
// packet format, the transport, and the session state machine.
package network

import (
	"encoding/binary"
	"time"

	"voicelink/internal/audio"
)

// ProtocolVersion is the current wire protocol version; packets carrying any
// other value are rejected before reaching the session layer.
const ProtocolVersion = 1

// MaxPacketSize is the largest serialized packet accepted on the wire,
// chosen to stay under common path MTUs.
const MaxPacketSize = 1400

// packetHeaderSize is the serialized size of everything except the payload:
// version(1) + type(1) + sender(4) + session(4) + data length(4) +
// sample count(8) + sequence(8) + checksum(4).
const packetHeaderSize = 34

// PacketType discriminates the four wire packet kinds.
type PacketType uint8

const (
	PacketAudio      PacketType = 1
	PacketHeartbeat  PacketType = 2
	PacketHandshake  PacketType = 3
	PacketDisconnect PacketType = 4
)

func (t PacketType) String() string {
	switch t {
	case PacketAudio:
		return "audio"
	case PacketHeartbeat:
		return "heartbeat"
	case PacketHandshake:
		return "handshake"
	case PacketDisconnect:
		return "disconnect"
	}
	return "unknown"
}

// Packet is the wire unit. Audio packets carry a compressed frame; the
// control types (heartbeat, handshake, disconnect) carry an empty one.
type Packet struct {
	Version   uint8
	Type      PacketType
	SenderID  uint32 // random per process
	SessionID uint32 // random per session

	Frame audio.CompressedFrame

	// SendTime is local-monotonic and never serialized; the receiving side
	// stamps its own on deserialization.
	SendTime time.Time

	// Checksum is a 32-bit XOR fold over all other serialized fields.
	Checksum uint32
}

// NewAudioPacket wraps a compressed frame for transmission.
func NewAudioPacket(frame audio.CompressedFrame, senderID, sessionID uint32) Packet {
	p := Packet{
		Version:   ProtocolVersion,
		Type:      PacketAudio,
		SenderID:  senderID,
		SessionID: sessionID,
		Frame:     frame,
		SendTime:  time.Now(),
	}
	p.Checksum = p.ComputeChecksum()
	return p
}

// newControlPacket builds an empty-payload packet of the given type.
func newControlPacket(t PacketType, senderID, sessionID uint32) Packet {
	p := Packet{
		Version:   ProtocolVersion,
		Type:      t,
		SenderID:  senderID,
		SessionID: sessionID,
		SendTime:  time.Now(),
	}
	p.Checksum = p.ComputeChecksum()
	return p
}

// NewHeartbeatPacket builds a keep-alive packet.
func NewHeartbeatPacket(senderID, sessionID uint32) Packet {
	return newControlPacket(PacketHeartbeat, senderID, sessionID)
}

// NewHandshakePacket builds a connection-establishment packet.
func NewHandshakePacket(senderID, sessionID uint32) Packet {
	return newControlPacket(PacketHandshake, senderID, sessionID)
}

// NewDisconnectPacket builds a clean-teardown packet.
func NewDisconnectPacket(senderID, sessionID uint32) Packet {
	return newControlPacket(PacketDisconnect, senderID, sessionID)
}

// ComputeChecksum XOR-folds every serialized field: the scalars directly,
// the payload in 4-byte little-endian chunks with the last chunk
// zero-padded. UDP's own 16-bit checksum is weak and sometimes disabled in
// the path; 32 bits here catch in-path corruption and format skew before
// the session layer sees the packet.
func (p *Packet) ComputeChecksum() uint32 {
	sum := uint32(p.Version)
	sum ^= uint32(p.Type)
	sum ^= p.SenderID
	sum ^= p.SessionID
	sum ^= uint32(p.Frame.Sequence)
	sum ^= uint32(p.Frame.OriginalSampleCount)

	data := p.Frame.Data
	for len(data) >= 4 {
		sum ^= binary.LittleEndian.Uint32(data)
		data = data[4:]
	}
	if len(data) > 0 {
		var tail [4]byte
		copy(tail[:], data)
		sum ^= binary.LittleEndian.Uint32(tail[:])
	}
	return sum
}

// VerifyChecksum reports whether the stored checksum matches the fields.
func (p *Packet) VerifyChecksum() bool {
	return p.Checksum == p.ComputeChecksum()
}

// Age returns the time since the packet was stamped for sending (or, on the
// receive side, since it was deserialized).
func (p *Packet) Age() time.Duration {
	return time.Since(p.SendTime)
}

// IsStale reports whether the packet is strictly older than maxAge.
func (p *Packet) IsStale(maxAge time.Duration) bool {
	return p.Age() > maxAge
}

// SerializedSize returns the exact on-wire size.
func (p *Packet) SerializedSize() int {
	return packetHeaderSize + len(p.Frame.Data)
}

// Marshal serializes the packet little-endian, field by field, with the
// payload length-prefixed. SendTime is deliberately omitted: monotonic
// clocks are not comparable across machines.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, 0, p.SerializedSize())
	buf = append(buf, p.Version, byte(p.Type))
	buf = binary.LittleEndian.AppendUint32(buf, p.SenderID)
	buf = binary.LittleEndian.AppendUint32(buf, p.SessionID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Frame.Data)))
	buf = append(buf, p.Frame.Data...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Frame.OriginalSampleCount))
	buf = binary.LittleEndian.AppendUint64(buf, p.Frame.Sequence)
	buf = binary.LittleEndian.AppendUint32(buf, p.Checksum)
	return buf
}

// Unmarshal parses a serialized packet. The returned packet's SendTime is
// the moment of deserialization. Checksum and version are parsed but not
// validated here; the transport decides what to reject.
func Unmarshal(data []byte) (Packet, bool) {
	if len(data) < packetHeaderSize {
		return Packet{}, false
	}

	var p Packet
	p.Version = data[0]
	p.Type = PacketType(data[1])
	p.SenderID = binary.LittleEndian.Uint32(data[2:6])
	p.SessionID = binary.LittleEndian.Uint32(data[6:10])

	dataLen := int(binary.LittleEndian.Uint32(data[10:14]))
	rest := data[14:]
	if dataLen < 0 || len(rest) != dataLen+20 {
		return Packet{}, false
	}
	if dataLen > 0 {
		p.Frame.Data = make([]byte, dataLen)
		copy(p.Frame.Data, rest[:dataLen])
	}
	rest = rest[dataLen:]

	p.Frame.OriginalSampleCount = int(binary.LittleEndian.Uint64(rest[0:8]))
	p.Frame.Sequence = binary.LittleEndian.Uint64(rest[8:16])
	p.Checksum = binary.LittleEndian.Uint32(rest[16:20])

	p.SendTime = time.Now()
	p.Frame.Timestamp = p.SendTime
	return p, true
}
