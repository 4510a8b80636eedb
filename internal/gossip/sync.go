package gossip

import (
	"time"

	"meshnode/internal/gcs"
	"meshnode/internal/proto"
)

// syncDue fires a sync round for every type class whose interval elapsed.
// Due classes are batched into a single request.
func (m *Manager) syncDue(now time.Time) {
	due := m.sched.Due(now)
	if len(due) == 0 {
		return
	}
	var types uint8
	for _, c := range due {
		types |= c.flag()
		m.sched.MarkSent(c, now)
	}
	m.sendSyncRound(types, now)
}

// sendSyncRound sends one REQUEST_SYNC per connected peer (so responses can
// be attributed per peer), or broadcasts it while still discovering peers.
func (m *Manager) sendSyncRound(types uint8, now time.Time) {
	m.cfg.Metrics.IncSyncRound()
	peers := m.transport.ConnectedPeers()
	if len(peers) == 0 {
		pkt := m.buildSyncRequest(types, now)
		m.transport.SendPacket(pkt)
		m.emit(Event{Type: EventSyncRequested})
		return
	}
	for _, peer := range peers {
		m.sendSyncRequestTo(peer, types, now)
	}
}

func (m *Manager) sendSyncRequestTo(peer string, types uint8, now time.Time) {
	pkt := m.buildSyncRequest(types, now)
	m.pending.Register(peer, types, now)
	m.transport.SendPacketTo(peer, pkt)
	m.emit(Event{Type: EventSyncRequested, Peer: peer})
	m.logf("sync request to %s (types %#x, filter %d bytes)", peer, types, len(pkt.Payload))
}

// buildSyncRequest encodes a filter over every locally known fresh ID of the
// requested classes.
func (m *Manager) buildSyncRequest(types uint8, now time.Time) *proto.Packet {
	cutoff := m.freshCutoffMs(now)
	var items []gcs.Item
	if types&proto.SyncMessages != 0 {
		items = append(items, m.messages.Items(cutoff)...)
	}
	if types&proto.SyncFragments != 0 {
		items = append(items, m.fragments.Items(cutoff)...)
	}
	if types&proto.SyncFileTransfers != 0 {
		items = append(items, m.files.Items(cutoff)...)
	}
	if types&proto.SyncAnnouncements != 0 {
		items = append(items, m.announces.Items(cutoff)...)
	}

	f := gcs.Build(items, m.cfg.FilterMaxBytes, m.cfg.FilterTargetFpr)
	req := proto.SyncRequest{P: f.P, Modulus: f.Modulus, TypeFlags: types, Filter: f.Data}

	pkt := &proto.Packet{
		Version:   proto.Version,
		Type:      proto.TypeRequestSync,
		TTL:       1, // direct exchange, never relayed onward
		Timestamp: uint64(now.UnixMilli()),
		SenderID:  m.self,
		Payload:   req.Encode(),
	}
	if signed, err := m.transport.SignPacket(pkt); err == nil {
		pkt = signed
	}
	return pkt
}

// serveSyncRequest answers a REQUEST_SYNC: every fresh item of the requested
// classes whose bucket the filter lacks goes back unicast with TTL 0 and the
// solicited-response mark, so it is consumed without further relay.
func (m *Manager) serveSyncRequest(from string, payload []byte) {
	req, err := proto.DecodeSyncRequest(payload)
	if err != nil || req.Modulus == 0 || req.TypeFlags&knownSyncFlags == 0 {
		// Malformed request: answer as "nothing missing", never an error.
		m.logf("unanswerable sync request from %s", from)
		return
	}
	// Modulus 1 is the documented degenerate filter: the requester holds
	// nothing, so everything fresh is missing.
	set := gcs.DecodeToSortedSet(req.Modulus, req.Filter)

	now := m.now()
	cutoff := m.freshCutoffMs(now)
	served := 0
	serve := func(id proto.PacketID, pkt *proto.Packet) bool {
		if gcs.Contains(set, gcs.BucketOf(id, req.Modulus)) {
			return true // requester (probably) has it
		}
		resp := pkt.Clone()
		resp.TTL = 0
		resp.IsRSR = true
		m.transport.SendPacketTo(from, resp)
		served++
		return true
	}

	if req.TypeFlags&proto.SyncMessages != 0 {
		m.messages.ForEachFresh(cutoff, serve)
	}
	if req.TypeFlags&proto.SyncFragments != 0 {
		m.fragments.ForEachFresh(cutoff, serve)
	}
	if req.TypeFlags&proto.SyncFileTransfers != 0 {
		m.files.ForEachFresh(cutoff, serve)
	}
	if req.TypeFlags&proto.SyncAnnouncements != 0 {
		m.announces.ForEach(func(sender proto.SenderID, pkt *proto.Packet) bool {
			return serve(proto.IDOf(pkt), pkt)
		})
	}

	if served > 0 {
		m.cfg.Metrics.AddSyncServed(served)
		m.emit(Event{Type: EventSyncServed, Peer: from, Count: served})
		m.logf("served %d packets to %s", served, from)
	}
}

const knownSyncFlags = proto.SyncMessages | proto.SyncFragments | proto.SyncFileTransfers | proto.SyncAnnouncements
