package gossip

import (
	"bytes"
	"time"

	"meshnode/internal/proto"
)

// Drop reasons, surfaced through events and metrics for auditing. Every
// validation failure is a silent drop: the sender is otherwise unaffected.
const (
	dropDirected    = "directed"
	dropRateLimited = "rate_limited"
	dropBadSig      = "bad_signature"
	dropOversized   = "oversized"
	dropContent     = "forbidden_content"
	dropStale       = "stale"
	dropFuture      = "future_timestamp"
)

// handlePacket runs the ingestion pipeline on the engine goroutine:
// validate in short-circuit order, then classify and store.
func (m *Manager) handlePacket(from string, pkt *proto.Packet) {
	now := m.now()

	if pkt.Type == proto.TypeRequestSync {
		m.serveSyncRequest(from, pkt.Payload)
		return
	}

	// A solicited response is only privileged if it matches a request we
	// actually issued and that has not expired; otherwise it is demoted to
	// an ordinary unsolicited broadcast packet.
	if pkt.IsRSR && !m.pending.Solicited(from, now, m.cfg.SyncRequestTimeout) {
		pkt = pkt.Clone()
		pkt.IsRSR = false
	}

	if reason, ok := m.validate(pkt, now); !ok {
		m.cfg.Metrics.IncDropped(reason)
		m.emit(Event{Type: EventPacketDropped, ID: proto.IDOf(pkt), Sender: pkt.SenderID, Reason: reason})
		m.logf("drop %s packet from %x: %s", pkt.Type, pkt.SenderID[:4], reason)
		return
	}

	m.storePacket(pkt, now)
}

func (m *Manager) validate(pkt *proto.Packet, now time.Time) (string, bool) {
	if !pkt.IsBroadcast() && !pkt.IsRSR {
		return dropDirected, false
	}
	if !m.rate.Allow(pkt.SenderID, now, m.cfg.RateLimitPerSecond) {
		return dropRateLimited, false
	}
	if m.cfg.VerifySignatures && !m.transport.VerifyPacket(pkt) {
		return dropBadSig, false
	}
	if len(pkt.Payload) > m.cfg.MaxPayloadSize {
		return dropOversized, false
	}
	if m.cfg.ContentScan {
		for _, pat := range m.cfg.ForbiddenPatterns {
			if len(pat) > 0 && bytes.Contains(pkt.Payload, pat) {
				return dropContent, false
			}
		}
	}
	return m.checkFreshness(pkt, now)
}

func (m *Manager) checkFreshness(pkt *proto.Packet, now time.Time) (string, bool) {
	nowMs := now.UnixMilli()
	if nowMs < int64(m.cfg.MaxAge/time.Millisecond) {
		// Local clock has not even reached MaxAge since the epoch (just
		// booted, no RTC): accept rather than reject everything.
		return "", true
	}
	if pkt.Timestamp < m.freshCutoffMs(now) {
		return dropStale, false
	}
	if pkt.Timestamp > uint64(now.Add(m.cfg.ClockSkew).UnixMilli()) {
		return dropFuture, false
	}
	return "", true
}

// storePacket classifies a validated packet into its type-specific state.
func (m *Manager) storePacket(pkt *proto.Packet, now time.Time) {
	switch pkt.Type {
	case proto.TypeAnnounce:
		ap, err := proto.DecodeAnnouncePayload(pkt.Payload)
		if err != nil {
			m.cfg.Metrics.IncDropped(dropContent)
			m.logf("bad announce from %x: %v", pkt.SenderID[:4], err)
			return
		}
		m.announces.Insert(pkt, ap, now)
		m.cfg.Metrics.IncAccepted()
		m.emit(Event{Type: EventPacketStored, ID: proto.IDOf(pkt), Sender: pkt.SenderID})

	case proto.TypeLeave:
		// Graceful departure: same effect as the stale-peer sweep, now.
		m.purgeSenderState(pkt.SenderID)
		m.emit(Event{Type: EventPeerPurged, Sender: pkt.SenderID})

	case proto.TypeMessage:
		m.insertInto(m.messages, pkt)
	case proto.TypeFragment:
		m.insertInto(m.fragments, pkt)
	case proto.TypeFileTransfer:
		m.insertInto(m.files, pkt)

	default:
		// Handshake and encrypted payloads are directed traffic; nothing
		// broadcast-classified remains to store.
	}
}

func (m *Manager) insertInto(store *PacketStore, pkt *proto.Packet) {
	id := proto.IDOf(pkt)
	if !store.Insert(id, pkt) {
		return // idempotent update, no event, no double count
	}
	m.cfg.Metrics.IncAccepted()
	if m.cfg.Archive != nil {
		if err := m.cfg.Archive.Put(pkt); err != nil {
			m.logf("archive put %s: %v", id.Hex(), err)
		}
	}
	m.emit(Event{Type: EventPacketStored, ID: id, Sender: pkt.SenderID})
}
