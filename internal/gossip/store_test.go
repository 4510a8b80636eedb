package gossip

import (
	"testing"
	"time"

	"meshnode/internal/proto"
)

func mkPacket(sender byte, ts uint64, payload string) *proto.Packet {
	return &proto.Packet{
		Version:   proto.Version,
		Type:      proto.TypeMessage,
		TTL:       3,
		Timestamp: ts,
		SenderID:  proto.SenderID{sender, sender, sender, sender, sender, sender, sender, sender},
		Payload:   []byte(payload),
	}
}

func TestPacketStoreCapacityFIFO(t *testing.T) {
	s := NewPacketStore(3)
	var ids []proto.PacketID
	for i := 0; i < 5; i++ {
		p := mkPacket(1, uint64(100+i), string(rune('a'+i)))
		id := proto.IDOf(p)
		ids = append(ids, id)
		s.Insert(id, p)
		if s.Len() > 3 {
			t.Fatalf("store grew to %d entries, capacity 3", s.Len())
		}
	}
	// Oldest two evicted, newest three remain.
	for i, id := range ids {
		_, ok := s.Get(id)
		if i < 2 && ok {
			t.Fatalf("entry %d should have been evicted", i)
		}
		if i >= 2 && !ok {
			t.Fatalf("entry %d missing", i)
		}
	}
}

func TestPacketStoreIdempotentInsert(t *testing.T) {
	s := NewPacketStore(2)
	p1 := mkPacket(1, 100, "one")
	p2 := mkPacket(1, 200, "two")
	id1 := proto.IDOf(p1)
	s.Insert(id1, p1)
	s.Insert(proto.IDOf(p2), p2)

	// Re-insert p1: update in place, nothing evicted, order unchanged.
	if s.Insert(id1, p1.Clone()) {
		t.Fatalf("re-insert reported as new")
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d after re-insert, want 2", s.Len())
	}

	// A new third packet must evict p1 (still the oldest), not p2.
	p3 := mkPacket(1, 300, "three")
	s.Insert(proto.IDOf(p3), p3)
	if _, ok := s.Get(id1); ok {
		t.Fatalf("re-insert disturbed eviction order")
	}
	if _, ok := s.Get(proto.IDOf(p2)); !ok {
		t.Fatalf("p2 wrongly evicted")
	}
}

func TestPacketStorePurges(t *testing.T) {
	s := NewPacketStore(10)
	old := mkPacket(1, 50, "old")
	fresh := mkPacket(2, 500, "fresh")
	s.Insert(proto.IDOf(old), old)
	s.Insert(proto.IDOf(fresh), fresh)

	if n := s.PurgeStale(100); n != 1 {
		t.Fatalf("PurgeStale removed %d, want 1", n)
	}
	if _, ok := s.Get(proto.IDOf(fresh)); !ok {
		t.Fatalf("fresh entry purged")
	}

	if n := s.PurgeSender(fresh.SenderID); n != 1 || s.Len() != 0 {
		t.Fatalf("PurgeSender removed %d, len %d", n, s.Len())
	}
}

func TestAnnouncementLatestReplacesPrevious(t *testing.T) {
	tbl := NewAnnouncementTable()
	sender := proto.SenderID{9, 9, 9, 9, 9, 9, 9, 9}
	now := time.Now()

	first := mkPacket(9, 100, "")
	first.Type = proto.TypeAnnounce
	second := mkPacket(9, 200, "")
	second.Type = proto.TypeAnnounce

	tbl.Insert(first, &proto.AnnouncePayload{Nickname: "old"}, now)
	tbl.Insert(second, &proto.AnnouncePayload{Nickname: "new"}, now.Add(time.Second))
	if tbl.Len() != 1 {
		t.Fatalf("table holds %d entries for one sender", tbl.Len())
	}
	nick, _, ok := tbl.Get(sender)
	if !ok || nick != "new" {
		t.Fatalf("latest announcement did not replace previous: %q", nick)
	}
}

func TestAnnouncementSweep(t *testing.T) {
	tbl := NewAnnouncementTable()
	now := time.Now()

	stale := mkPacket(1, 100, "")
	live := mkPacket(2, 200, "")
	tbl.Insert(stale, &proto.AnnouncePayload{}, now.Add(-10*time.Minute))
	tbl.Insert(live, &proto.AnnouncePayload{}, now)

	purged := tbl.Sweep(now, 5*time.Minute)
	if len(purged) != 1 || purged[0] != stale.SenderID {
		t.Fatalf("sweep purged %v", purged)
	}
	if tbl.Len() != 1 {
		t.Fatalf("table len = %d after sweep", tbl.Len())
	}
}
