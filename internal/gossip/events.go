package gossip

import "meshnode/internal/proto"

type EventType string

const (
	EventPacketStored  EventType = "packet_stored"
	EventPacketDropped EventType = "packet_dropped"
	EventPacketExpired EventType = "packet_expired"
	EventPeerPurged    EventType = "peer_purged"
	EventSyncRequested EventType = "sync_requested"
	EventSyncServed    EventType = "sync_served"
)

// Event reports a state transition. Events for one packet ID are emitted in
// transition order because a single goroutine drives all transitions.
type Event struct {
	Type   EventType
	ID     proto.PacketID
	Sender proto.SenderID
	Peer   string
	Reason string
	Count  int
}
