package mesh

import (
	"time"

	"meshnode/internal/proto"
	"meshnode/internal/relay"
)

// handleInbound is the per-packet pipeline: dedupe, hand to the engine,
// surface to the app, then maybe schedule a relay.
func (n *Node) handleInbound(fromPeer string, pkt *proto.Packet) {
	id := proto.IDOf(pkt)
	if n.seen.Seen(id) {
		// A duplicate from another neighbor means the packet is already
		// circulating there; our queued rebroadcast would be redundant.
		n.cancelPendingRelay(id)
		return
	}

	if pkt.Type == proto.TypeRequestSync {
		// Sync requests are point-to-point and never relayed.
		n.engine.HandleRequestSync(fromPeer, pkt.Payload)
		return
	}

	n.engine.OnPacketSeen(fromPeer, pkt)

	switch pkt.Type {
	case proto.TypeMessage, proto.TypeNoiseEncrypted, proto.TypeFileTransfer:
		select {
		case n.incoming <- pkt:
		default:
			n.logf("incoming queue full, dropping %s", id.Hex())
		}
	}

	d := n.relayer.Decide(pkt.TTL, pkt.SenderID == n.identity.Sender, classOf(pkt), n.degree())
	if d.Relay {
		n.scheduleRelay(id, fromPeer, pkt, d)
	}
}

// classOf maps a packet to its flood-control class.
func classOf(pkt *proto.Packet) relay.Class {
	switch pkt.Type {
	case proto.TypeNoiseHandshake, proto.TypeNoiseEncrypted:
		return relay.ClassReliability
	case proto.TypeAnnounce:
		return relay.ClassAnnounce
	case proto.TypeFragment:
		if pkt.IsBroadcast() {
			return relay.ClassFragment
		}
		return relay.ClassReliability
	}
	if !pkt.IsBroadcast() {
		return relay.ClassReliability
	}
	return relay.ClassBroadcast
}

// scheduleRelay queues a delayed rebroadcast that a duplicate sighting can
// still cancel.
func (n *Node) scheduleRelay(id proto.PacketID, fromPeer string, pkt *proto.Packet, d relay.Decision) {
	out := pkt.Clone()
	out.TTL = d.TTL
	frame, err := proto.Encode(out, false)
	if err != nil {
		n.logf("encode relay: %v", err)
		return
	}

	n.relayMu.Lock()
	if _, dup := n.pendingRelays[id]; dup {
		n.relayMu.Unlock()
		return
	}
	n.pendingRelays[id] = time.AfterFunc(d.Delay, func() {
		n.relayMu.Lock()
		delete(n.pendingRelays, id)
		n.relayMu.Unlock()
		n.broadcastFrame(frame, fromPeer)
	})
	n.relayMu.Unlock()
}

func (n *Node) cancelPendingRelay(id proto.PacketID) {
	n.relayMu.Lock()
	if t, ok := n.pendingRelays[id]; ok {
		t.Stop()
		delete(n.pendingRelays, id)
	}
	n.relayMu.Unlock()
}
