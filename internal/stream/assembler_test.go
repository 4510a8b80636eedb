package stream

import (
	"bytes"
	"testing"

	"meshnode/internal/proto"
)

func frame(t *testing.T, seed byte, payload string) []byte {
	t.Helper()
	b, err := proto.Encode(&proto.Packet{
		Version:   proto.Version,
		Type:      proto.TypeMessage,
		TTL:       3,
		Timestamp: uint64(1000 + int(seed)),
		SenderID:  proto.SenderID{seed, seed, seed, seed, seed, seed, seed, seed},
		Payload:   []byte(payload),
	}, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestEmptyChunkIsNoop(t *testing.T) {
	a := New(Config{})
	res := a.Append(nil)
	if len(res.Frames) != 0 || res.Reset || a.Buffered() != 0 {
		t.Fatalf("empty chunk changed state: %+v", res)
	}
}

func TestTwoFramesOneChunk(t *testing.T) {
	a := New(Config{})
	f1 := frame(t, 1, "first")
	f2 := frame(t, 2, "second")

	res := a.Append(append(append([]byte(nil), f1...), f2...))
	if len(res.Frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(res.Frames))
	}
	if !bytes.Equal(res.Frames[0], f1) || !bytes.Equal(res.Frames[1], f2) {
		t.Fatalf("frames corrupted")
	}
	if a.Buffered() != 0 {
		t.Fatalf("%d leftover bytes", a.Buffered())
	}
}

func TestArbitraryChunkBoundaries(t *testing.T) {
	whole := append(append([]byte(nil), frame(t, 1, "alpha")...), frame(t, 2, "beta")...)
	whole = append(whole, frame(t, 3, "gamma")...)

	for _, step := range []int{1, 2, 3, 7, 16} {
		a := New(Config{})
		var got [][]byte
		for i := 0; i < len(whole); i += step {
			end := i + step
			if end > len(whole) {
				end = len(whole)
			}
			res := a.Append(whole[i:end])
			if res.Reset {
				t.Fatalf("step %d: unexpected reset", step)
			}
			got = append(got, res.Frames...)
		}
		if len(got) != 3 {
			t.Fatalf("step %d: got %d frames, want 3", step, len(got))
		}
	}
}

func TestBadVersionByteResyncs(t *testing.T) {
	a := New(Config{})
	good := frame(t, 1, "survivor")
	res := a.Append(append([]byte{0xEE}, good...))
	if len(res.Frames) != 1 || !bytes.Equal(res.Frames[0], good) {
		t.Fatalf("valid frame lost after corrupt byte: %+v", res)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != 0xEE {
		t.Fatalf("dropped = %v, want [0xEE]", res.Dropped)
	}
	if res.Reset {
		t.Fatalf("single-byte resync must not reset")
	}
}

func TestOverlengthFrameResets(t *testing.T) {
	a := New(Config{MaxFrameLen: 64})
	big := frame(t, 1, string(bytes.Repeat([]byte{'x'}, 200)))
	res := a.Append(big)
	if !res.Reset {
		t.Fatalf("expected reset for over-cap frame")
	}
	if len(res.Frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(res.Frames))
	}
	if a.Buffered() != 0 {
		t.Fatalf("buffer not emptied: %d bytes", a.Buffered())
	}
}

func TestBufferCapResets(t *testing.T) {
	a := New(Config{MaxBufferLen: 8})
	// A valid version byte but never enough header to learn a length.
	res := a.Append([]byte{proto.Version, 0x04, 0x00})
	if res.Reset {
		t.Fatalf("premature reset")
	}
	res = a.Append(bytes.Repeat([]byte{0x00}, 7))
	if !res.Reset {
		t.Fatalf("expected reset after exceeding buffer cap")
	}
}

func TestPendingFrameTracked(t *testing.T) {
	a := New(Config{})
	whole := frame(t, 1, "partial")
	a.Append(whole[:5])
	if a.PendingFor(a.cfg.Now().Add(50)) == 0 {
		t.Fatalf("pending frame not tracked")
	}
	a.Append(whole[5:])
	if a.PendingFor(a.cfg.Now()) != 0 {
		t.Fatalf("pending age not cleared after completion")
	}
}
