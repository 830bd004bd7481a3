package network

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"voicelink/internal/audio"
)

func testFrame(data []byte, seq uint64) audio.CompressedFrame {
	return audio.CompressedFrame{
		Data:                data,
		OriginalSampleCount: 960,
		Timestamp:           time.Now(),
		Sequence:            seq,
	}
}

func TestAudioPacketCreation(t *testing.T) {
	p := NewAudioPacket(testFrame([]byte{1, 2, 3, 4}, 42), 123, 456)

	if p.Version != ProtocolVersion {
		t.Errorf("version = %d, want %d", p.Version, ProtocolVersion)
	}
	if p.Type != PacketAudio {
		t.Errorf("type = %v, want audio", p.Type)
	}
	if p.SenderID != 123 || p.SessionID != 456 {
		t.Errorf("ids = (%d, %d), want (123, 456)", p.SenderID, p.SessionID)
	}
	if !p.VerifyChecksum() {
		t.Error("fresh packet must verify")
	}
}

func TestChecksumDetectsMutation(t *testing.T) {
	p := NewAudioPacket(testFrame([]byte{1, 2, 3, 4, 5}, 7), 123, 456)

	corrupted := p
	corrupted.Frame.Data = append([]byte(nil), p.Frame.Data...)
	corrupted.Frame.Data[0] = 99
	if corrupted.VerifyChecksum() {
		t.Error("mutated payload must fail verification")
	}

	corrupted = p
	corrupted.SessionID++
	if corrupted.VerifyChecksum() {
		t.Error("mutated session id must fail verification")
	}
}

func TestChecksumFoldsTailChunk(t *testing.T) {
	// 5 bytes: one full chunk plus a zero-padded tail.
	p := NewAudioPacket(testFrame([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}, 1), 1, 1)

	q := p
	q.Frame.Data = append([]byte(nil), p.Frame.Data...)
	q.Frame.Data[4] ^= 0x01 // flip a bit in the padded tail
	if q.ComputeChecksum() == p.ComputeChecksum() {
		t.Error("tail chunk must participate in the fold")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	p := NewAudioPacket(testFrame([]byte{9, 8, 7, 6, 5, 4}, 99), 1111, 2222)

	q, ok := Unmarshal(p.Marshal())
	if !ok {
		t.Fatal("unmarshal failed")
	}

	if q.Version != p.Version || q.Type != p.Type ||
		q.SenderID != p.SenderID || q.SessionID != p.SessionID ||
		q.Frame.OriginalSampleCount != p.Frame.OriginalSampleCount ||
		q.Frame.Sequence != p.Frame.Sequence ||
		q.Checksum != p.Checksum {
		t.Errorf("field mismatch: %+v vs %+v", q, p)
	}
	if string(q.Frame.Data) != string(p.Frame.Data) {
		t.Errorf("payload mismatch: %v vs %v", q.Frame.Data, p.Frame.Data)
	}
	if !q.VerifyChecksum() {
		t.Error("round-tripped packet must verify")
	}
}

func TestControlPacketsHaveEmptyPayload(t *testing.T) {
	for _, p := range []Packet{
		NewHeartbeatPacket(1, 2),
		NewHandshakePacket(1, 2),
		NewDisconnectPacket(1, 2),
	} {
		if len(p.Frame.Data) != 0 {
			t.Errorf("%v packet carries payload", p.Type)
		}
		if !p.VerifyChecksum() {
			t.Errorf("%v packet must verify", p.Type)
		}
		if got := p.SerializedSize(); got != packetHeaderSize {
			t.Errorf("%v size = %d, want %d", p.Type, got, packetHeaderSize)
		}
	}
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	p := NewAudioPacket(testFrame([]byte{1, 2, 3}, 1), 1, 1)
	data := p.Marshal()

	for _, n := range []int{0, 1, packetHeaderSize - 1, len(data) - 1} {
		if _, ok := Unmarshal(data[:n]); ok {
			t.Errorf("truncated to %d bytes should not parse", n)
		}
	}
	if _, ok := Unmarshal(append(data, 0)); ok {
		t.Error("trailing garbage should not parse")
	}
}

func TestPacketAge(t *testing.T) {
	p := NewAudioPacket(testFrame([]byte{1}, 1), 1, 1)

	if p.IsStale(time.Second) {
		t.Error("fresh packet must not be stale")
	}

	p.SendTime = time.Now().Add(-2 * time.Second)
	if !p.IsStale(time.Second) {
		t.Error("2s-old packet must be stale against a 1s limit")
	}
}

func TestMarshalRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := Packet{
			Version:   ProtocolVersion,
			Type:      PacketType(rapid.IntRange(1, 4).Draw(rt, "type")),
			SenderID:  rapid.Uint32().Draw(rt, "sender"),
			SessionID: rapid.Uint32().Draw(rt, "session"),
			Frame: audio.CompressedFrame{
				Data:                rapid.SliceOfN(rapid.Byte(), 0, 1300).Draw(rt, "data"),
				OriginalSampleCount: rapid.IntRange(0, 5760).Draw(rt, "samples"),
				Sequence:            rapid.Uint64().Draw(rt, "seq"),
			},
			SendTime: time.Now(),
		}
		p.Checksum = p.ComputeChecksum()

		q, ok := Unmarshal(p.Marshal())
		if !ok {
			rt.Fatal("unmarshal failed")
		}
		if !q.VerifyChecksum() {
			rt.Fatal("round-tripped checksum must verify")
		}
		if q.SenderID != p.SenderID || q.SessionID != p.SessionID ||
			q.Frame.Sequence != p.Frame.Sequence ||
			q.Frame.OriginalSampleCount != p.Frame.OriginalSampleCount ||
			len(q.Frame.Data) != len(p.Frame.Data) {
			rt.Fatalf("field mismatch after round trip")
		}
	})
}
