package mesh

type EventType string

const (
	EventPeerConnected    EventType = "peer_connected"
	EventPeerDisconnected EventType = "peer_disconnected"
)

// Event reports a peer lifecycle change to the application.
type Event struct {
	Type     EventType
	PeerID   string
	PeerName string
}
