package gossip

import (
	"time"

	"meshnode/internal/gcs"
	"meshnode/internal/proto"
)

// PacketStore is a capacity-bounded, insertion-ordered map of packets keyed
// by packet ID. Re-inserting a known ID updates the value in place without
// touching eviction order or counting twice; exceeding capacity evicts the
// oldest entry. Not safe for concurrent use: the engine's run loop is the
// single writer.
type PacketStore struct {
	capacity int
	order    []proto.PacketID
	entries  map[proto.PacketID]*proto.Packet
}

func NewPacketStore(capacity int) *PacketStore {
	if capacity < 1 {
		capacity = 1
	}
	return &PacketStore{
		capacity: capacity,
		entries:  make(map[proto.PacketID]*proto.Packet),
	}
}

// Insert adds or updates a packet and reports whether the ID was new.
func (s *PacketStore) Insert(id proto.PacketID, pkt *proto.Packet) bool {
	if _, ok := s.entries[id]; ok {
		s.entries[id] = pkt
		return false
	}
	s.entries[id] = pkt
	s.order = append(s.order, id)
	if len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
	return true
}

func (s *PacketStore) Get(id proto.PacketID) (*proto.Packet, bool) {
	p, ok := s.entries[id]
	return p, ok
}

func (s *PacketStore) Len() int { return len(s.entries) }

// ForEachFresh visits entries whose timestamp is at or after cutoffMs, in
// insertion order. Staleness is re-checked here on every read, independent of
// the eager sweeps.
func (s *PacketStore) ForEachFresh(cutoffMs uint64, fn func(id proto.PacketID, pkt *proto.Packet) bool) {
	for _, id := range s.order {
		pkt, ok := s.entries[id]
		if !ok || pkt.Timestamp < cutoffMs {
			continue
		}
		if !fn(id, pkt) {
			return
		}
	}
}

// Items returns the fresh entries as filter candidates.
func (s *PacketStore) Items(cutoffMs uint64) []gcs.Item {
	out := make([]gcs.Item, 0, len(s.order))
	s.ForEachFresh(cutoffMs, func(id proto.PacketID, pkt *proto.Packet) bool {
		out = append(out, gcs.Item{ID: id, Timestamp: pkt.Timestamp})
		return true
	})
	return out
}

// PurgeStale drops entries older than cutoffMs and returns how many went.
func (s *PacketStore) PurgeStale(cutoffMs uint64) int {
	return s.purge(func(pkt *proto.Packet) bool { return pkt.Timestamp < cutoffMs })
}

// PurgeSender drops every entry attributed to sender.
func (s *PacketStore) PurgeSender(sender proto.SenderID) int {
	return s.purge(func(pkt *proto.Packet) bool { return pkt.SenderID == sender })
}

func (s *PacketStore) purge(gone func(*proto.Packet) bool) int {
	kept := s.order[:0]
	n := 0
	for _, id := range s.order {
		pkt, ok := s.entries[id]
		if ok && gone(pkt) {
			delete(s.entries, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return n
}

// announcement is the live-peer record for one sender: latest replaces
// previous, and its staleness clock is the peer timeout, not MaxAge.
type announcement struct {
	pkt      *proto.Packet
	nickname string
	signPub  []byte
	lastSeen time.Time
}

// AnnouncementTable holds at most one live announcement per sender.
type AnnouncementTable struct {
	entries map[proto.SenderID]*announcement
}

func NewAnnouncementTable() *AnnouncementTable {
	return &AnnouncementTable{entries: make(map[proto.SenderID]*announcement)}
}

func (t *AnnouncementTable) Insert(pkt *proto.Packet, ap *proto.AnnouncePayload, now time.Time) {
	t.entries[pkt.SenderID] = &announcement{
		pkt:      pkt,
		nickname: ap.Nickname,
		signPub:  ap.SignPub,
		lastSeen: now,
	}
}

func (t *AnnouncementTable) Remove(sender proto.SenderID) {
	delete(t.entries, sender)
}

func (t *AnnouncementTable) Len() int { return len(t.entries) }

func (t *AnnouncementTable) Get(sender proto.SenderID) (nickname string, signPub []byte, ok bool) {
	a, ok := t.entries[sender]
	if !ok {
		return "", nil, false
	}
	return a.nickname, a.signPub, true
}

// Sweep removes announcements not refreshed within timeout and returns the
// purged senders, so the caller can drop all their dependent state.
func (t *AnnouncementTable) Sweep(now time.Time, timeout time.Duration) []proto.SenderID {
	var purged []proto.SenderID
	for sender, a := range t.entries {
		if now.Sub(a.lastSeen) > timeout {
			delete(t.entries, sender)
			purged = append(purged, sender)
		}
	}
	return purged
}

// Items returns the fresh announcements as filter candidates.
func (t *AnnouncementTable) Items(cutoffMs uint64) []gcs.Item {
	out := make([]gcs.Item, 0, len(t.entries))
	for _, a := range t.entries {
		if a.pkt.Timestamp >= cutoffMs {
			out = append(out, gcs.Item{ID: proto.IDOf(a.pkt), Timestamp: a.pkt.Timestamp})
		}
	}
	return out
}

func (t *AnnouncementTable) ForEach(fn func(sender proto.SenderID, pkt *proto.Packet) bool) {
	for sender, a := range t.entries {
		if !fn(sender, a.pkt) {
			return
		}
	}
}
