package proto

import (
	"bytes"
	"errors"
	"testing"
)

func samplePacket() *Packet {
	rec := SenderID{1, 2, 3, 4, 5, 6, 7, 8}
	return &Packet{
		Version:   Version,
		Type:      TypeMessage,
		TTL:       5,
		Timestamp: 1700000000123,
		SenderID:  SenderID{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x01, 0x02},
		Recipient: &rec,
		Route:     []SenderID{{9, 9, 9, 9, 9, 9, 9, 9}},
		Payload:   []byte("hello mesh"),
		Signature: bytes.Repeat([]byte{0x5A}, SignatureSize),
		IsRSR:     true,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := samplePacket()
	b, err := Encode(p, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(p) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestEncodeDecodeMinimalPacket(t *testing.T) {
	p := &Packet{
		Version:   Version,
		Type:      TypeAnnounce,
		TTL:       7,
		Timestamp: 42,
		SenderID:  SenderID{1},
	}
	b, err := Encode(p, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(p) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, p)
	}
}

func TestPaddingIsLossyButTransparent(t *testing.T) {
	p := samplePacket()
	b, err := Encode(p, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	plain, _ := Encode(p, false)
	if len(b) <= len(plain) {
		t.Fatalf("padded frame (%d) not larger than plain frame (%d)", len(b), len(plain))
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("padding not stripped: got %d payload bytes, want %d", len(got.Payload), len(p.Payload))
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	b, _ := Encode(samplePacket(), false)
	b[0] = 0x7F
	if _, err := Decode(b); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestDecodeRejectsTruncatedAndTrailing(t *testing.T) {
	b, _ := Encode(samplePacket(), false)
	if _, err := Decode(b[:len(b)-1]); err == nil {
		t.Fatalf("truncated frame decoded")
	}
	if _, err := Decode(append(b, 0x00)); err == nil {
		t.Fatalf("frame with trailing byte decoded")
	}
}

func TestFrameLengthIncremental(t *testing.T) {
	b, _ := Encode(samplePacket(), false)
	for i := 0; i < len(b); i++ {
		n, err := FrameLength(b[:i])
		if err == nil {
			if n != len(b) {
				t.Fatalf("FrameLength(prefix %d) = %d, want %d", i, n, len(b))
			}
			continue
		}
		if !errors.Is(err, ErrShortHeader) {
			t.Fatalf("FrameLength(prefix %d): %v", i, err)
		}
	}
	n, err := FrameLength(b)
	if err != nil || n != len(b) {
		t.Fatalf("FrameLength(full) = %d, %v", n, err)
	}
}

func TestSyncRequestRoundTrip(t *testing.T) {
	req := &SyncRequest{P: 9, Modulus: 123456, TypeFlags: SyncMessages | SyncAnnouncements, Filter: []byte{1, 2, 3}}
	got, err := DecodeSyncRequest(req.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.P != req.P || got.Modulus != req.Modulus || got.TypeFlags != req.TypeFlags || !bytes.Equal(got.Filter, req.Filter) {
		t.Fatalf("mismatch: %+v vs %+v", got, req)
	}
}

func TestAnnouncePayloadRoundTrip(t *testing.T) {
	a := &AnnouncePayload{Nickname: "alice", SignPub: bytes.Repeat([]byte{7}, 32)}
	b, err := a.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeAnnouncePayload(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Nickname != a.Nickname || !bytes.Equal(got.SignPub, a.SignPub) {
		t.Fatalf("mismatch: %+v vs %+v", got, a)
	}
}
