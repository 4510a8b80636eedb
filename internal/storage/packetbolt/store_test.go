package packetbolt

import (
	"path/filepath"
	"testing"

	"meshnode/internal/proto"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "packets.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pkt(ts uint64, payload string) *proto.Packet {
	return &proto.Packet{
		Version:   proto.Version,
		Type:      proto.TypeMessage,
		TTL:       3,
		Timestamp: ts,
		SenderID:  proto.SenderID{1, 2, 3, 4, 5, 6, 7, 8},
		Payload:   []byte(payload),
	}
}

func TestPutLoadRoundTrip(t *testing.T) {
	s := openTemp(t)
	p1 := pkt(100, "one")
	p2 := pkt(200, "two")
	if err := s.Put(p1); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(p2); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Duplicate put is a no-op.
	if err := s.Put(p1); err != nil {
		t.Fatalf("dup put: %v", err)
	}
	if n, _ := s.Len(); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}

	got, err := s.LoadFresh(0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || !got[0].Equal(p1) || !got[1].Equal(p2) {
		t.Fatalf("load mismatch: %d packets", len(got))
	}
}

func TestLoadFreshHonorsCutoff(t *testing.T) {
	s := openTemp(t)
	_ = s.Put(pkt(100, "old"))
	_ = s.Put(pkt(200, "new"))

	got, err := s.LoadFresh(150)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != 200 {
		t.Fatalf("cutoff ignored: %d packets", len(got))
	}
}

func TestSweepStale(t *testing.T) {
	s := openTemp(t)
	_ = s.Put(pkt(100, "old"))
	_ = s.Put(pkt(200, "mid"))
	_ = s.Put(pkt(300, "new"))

	n, err := s.SweepStale(250)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d, want 2", n)
	}
	left, _ := s.LoadFresh(0)
	if len(left) != 1 || left[0].Timestamp != 300 {
		t.Fatalf("wrong survivors: %d", len(left))
	}
}
