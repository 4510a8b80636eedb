// Package mesh runs the concrete peer mesh: noise-secured TCP links, frame
// reassembly per connection, duplicate-suppressed relaying, and the wiring
// that lets the gossip engine see the network only as a capability set.
package mesh

import (
	"context"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"meshnode/internal/crypto/noiseconn"
	"meshnode/internal/crypto/packetsign"
	"meshnode/internal/gossip"
	"meshnode/internal/netx"
	"meshnode/internal/proto"
	"meshnode/internal/relay"
	"meshnode/internal/stream"
	"meshnode/internal/telemetry"
)

type Config struct {
	Nickname   string           // announced display name
	Network    netx.Network     // transport implementation
	BindAddr   string           // e.g. ":0" to choose a random port
	Bootstraps []netx.Addr      // known peers to try on startup
	Logger     telemetry.Logger // system logger
	Debug      bool             // show hidden logs

	Relay  relay.Config
	Gossip gossip.Config
}

type Node struct {
	cfg      Config
	identity *packetsign.Identity
	noiseKey noiseconn.Keypair
	registry *packetsign.Registry
	engine   *gossip.Manager
	relayer  *relay.Controller

	mu    sync.RWMutex
	peers map[string]*peer

	seen *seenCache

	relayMu       sync.Mutex
	pendingRelays map[proto.PacketID]*time.Timer

	incoming chan *proto.Packet
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc
	addr   netx.Addr
}

func NewNode(cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	id, err := packetsign.NewIdentity()
	if err != nil {
		return nil, err
	}
	nk, err := noiseconn.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:           cfg,
		identity:      id,
		noiseKey:      nk,
		registry:      packetsign.NewRegistry(),
		relayer:       relay.NewController(cfg.Relay),
		peers:         make(map[string]*peer),
		seen:          newSeenCache(10 * time.Minute),
		pendingRelays: make(map[proto.PacketID]*time.Timer),
		incoming:      make(chan *proto.Packet, 128),
		events:        make(chan Event, 128),
		ctx:           ctx,
		cancel:        cancel,
	}
	n.engine = gossip.NewManager(cfg.Gossip, id.Sender, n)
	return n, nil
}

// SenderID returns this node's packet sender ID.
func (n *Node) SenderID() proto.SenderID { return n.identity.Sender }

// ID returns the hex form of the sender ID, used as the peer key on links.
func (n *Node) ID() string { return hex.EncodeToString(n.identity.Sender[:]) }

// ListenAddr returns where this node is listening.
func (n *Node) ListenAddr() netx.Addr { return n.addr }

// Name returns the configured nickname.
func (n *Node) Name() string { return n.cfg.Nickname }

// PeerCount reports how many links are currently up.
func (n *Node) PeerCount() int { return n.degree() }

// Engine exposes the sync engine for stats and event consumption.
func (n *Node) Engine() *gossip.Manager { return n.engine }

// Incoming returns decoded application-facing packets (chat, sealed).
func (n *Node) Incoming() <-chan *proto.Packet { return n.incoming }

// Events returns peer lifecycle events.
func (n *Node) Events() <-chan Event { return n.events }

// Start brings the node online: listen, dial bootstraps, start the engine,
// announce ourselves.
func (n *Node) Start() error {
	addr, err := n.cfg.Network.Listen(n.cfg.BindAddr)
	if err != nil {
		return err
	}
	n.addr = addr
	n.logf("listening on %s, sender=%s", n.addr, n.ID())

	n.engine.Start()

	go n.acceptLoop()
	for _, b := range n.cfg.Bootstraps {
		go func(addr netx.Addr) { _ = n.ConnectTo(addr) }(b)
	}

	n.Announce()
	return nil
}

// Stop shuts the node down.
func (n *Node) Stop() error {
	n.cancel()
	n.engine.Stop()

	n.relayMu.Lock()
	for id, t := range n.pendingRelays {
		t.Stop()
		delete(n.pendingRelays, id)
	}
	n.relayMu.Unlock()

	n.mu.Lock()
	for _, p := range n.peers {
		p.close()
	}
	n.peers = make(map[string]*peer)
	n.mu.Unlock()

	return n.cfg.Network.Close()
}

// Announce broadcasts this node's signed presence record.
func (n *Node) Announce() {
	payload, err := (&proto.AnnouncePayload{Nickname: n.cfg.Nickname, SignPub: n.identity.Pub}).Encode()
	if err != nil {
		n.logf("announce payload: %v", err)
		return
	}
	n.engine.Broadcast(proto.TypeAnnounce, payload)
}

// SendMessage broadcasts a plain chat message through the engine.
func (n *Node) SendMessage(text string) {
	n.engine.Broadcast(proto.TypeMessage, []byte(text))
}

// SendSealed broadcasts an encrypted payload (already sealed by the caller).
func (n *Node) SendSealed(sealed []byte) {
	n.engine.Broadcast(proto.TypeNoiseEncrypted, sealed)
}

// Leave tells the mesh this node is going away, then stops nothing: callers
// still Stop() afterwards.
func (n *Node) Leave() {
	n.engine.Broadcast(proto.TypeLeave, nil)
}

func (n *Node) acceptLoop() {
	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}

		conn, err := n.cfg.Network.Accept()
		if err != nil {
			n.logf("accept error: %v", err)
			return
		}
		go n.handleConn(conn, true)
	}
}

// ConnectTo dials a peer address (used by bootstraps and the CLI).
func (n *Node) ConnectTo(addr netx.Addr) error {
	conn, err := n.cfg.Network.Dial(addr)
	if err != nil {
		n.logf("dial %s failed: %v", addr, err)
		return err
	}
	go n.handleConn(conn, false)
	return nil
}

func (n *Node) degree() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// --- gossip.Transport ---

// SendPacket broadcasts a packet to every connected peer.
func (n *Node) SendPacket(pkt *proto.Packet) {
	frame, err := proto.Encode(pkt, false)
	if err != nil {
		n.logf("encode broadcast: %v", err)
		return
	}
	// Our own traffic must not be re-ingested when it echoes back.
	n.seen.Seen(proto.IDOf(pkt))
	n.broadcastFrame(frame, "")
}

// SendPacketTo unicasts a packet to one peer; unknown peers are a silent
// no-op (fire-and-forget contract).
func (n *Node) SendPacketTo(peerID string, pkt *proto.Packet) {
	frame, err := proto.Encode(pkt, false)
	if err != nil {
		n.logf("encode unicast: %v", err)
		return
	}
	n.mu.RLock()
	p, ok := n.peers[peerID]
	n.mu.RUnlock()
	if !ok {
		n.logf("unicast to unknown peer %s dropped", peerID)
		return
	}
	p.send(n, frame)
}

func (n *Node) SignPacket(pkt *proto.Packet) (*proto.Packet, error) {
	return n.identity.Sign(pkt)
}

func (n *Node) VerifyPacket(pkt *proto.Packet) bool {
	return n.registry.Verify(pkt)
}

func (n *Node) ConnectedPeers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.peers))
	for id := range n.peers {
		out = append(out, id)
	}
	return out
}

// broadcastFrame fans a frame out to every peer except the one it came from.
func (n *Node) broadcastFrame(frame []byte, exceptPeer string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, p := range n.peers {
		if id == exceptPeer {
			continue
		}
		p.send(n, frame)
	}
}

func (n *Node) addPeer(p *peer) bool {
	n.mu.Lock()
	if _, dup := n.peers[p.id]; dup || p.id == n.ID() {
		n.mu.Unlock()
		return false
	}
	n.peers[p.id] = p
	n.mu.Unlock()

	n.emit(Event{Type: EventPeerConnected, PeerID: p.id, PeerName: p.nickname})
	n.engine.PeerConnected(p.id)
	// Re-announce so peers beyond the new link learn our signing key.
	n.Announce()
	return true
}

func (n *Node) removePeer(id string) {
	n.mu.Lock()
	p, ok := n.peers[id]
	if ok {
		delete(n.peers, id)
	}
	n.mu.Unlock()
	if ok {
		p.close()
		n.emit(Event{Type: EventPeerDisconnected, PeerID: id, PeerName: p.nickname})
	}
}

func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
		// drop to avoid deadlock
	}
}

// stream reassembler config shared by all links.
func (n *Node) assemblerConfig() stream.Config {
	return stream.Config{
		MaxFrameLen:  proto.MaxPayloadLen + 512,
		MaxBufferLen: 4 * (proto.MaxPayloadLen + 512),
	}
}
