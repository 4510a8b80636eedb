// Package gossip is the propagation core: it validates and stores inbound
// broadcast packets, expires state on two decoupled cadences, and runs the
// periodic filter-based anti-entropy protocol that lets reconnecting peers
// recover missed traffic.
package gossip

import (
	"context"
	"log"
	"sync"
	"time"

	"meshnode/internal/proto"
)

// Transport is the outbound capability set the engine consumes. Sends are
// fire-and-forget: the engine never blocks on network I/O or waits for acks.
type Transport interface {
	SendPacket(pkt *proto.Packet)
	SendPacketTo(peer string, pkt *proto.Packet)
	SignPacket(pkt *proto.Packet) (*proto.Packet, error)
	VerifyPacket(pkt *proto.Packet) bool
	ConnectedPeers() []string
}

// Archive persists fresh broadcast packets across restarts. Optional.
type Archive interface {
	Put(pkt *proto.Packet) error
	LoadFresh(cutoffMs uint64) ([]*proto.Packet, error)
	SweepStale(cutoffMs uint64) (int, error)
}

// Manager orchestrates validation, bounded storage, maintenance and the
// request/response sync protocol. All state mutation runs on one goroutine;
// producers submit work from any goroutine through the ops channel.
type Manager struct {
	cfg       Config
	self      proto.SenderID
	transport Transport

	messages  *PacketStore
	fragments *PacketStore
	files     *PacketStore
	announces *AnnouncementTable
	rate      *RateTracker
	pending   *PendingRequests
	sched     *Schedule

	ops    chan func()
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func NewManager(cfg Config, self proto.SenderID, transport Transport) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		self:      self,
		transport: transport,
		messages:  NewPacketStore(cfg.MessageCapacity),
		fragments: NewPacketStore(cfg.FragmentCapacity),
		files:     NewPacketStore(cfg.FileTransferCapacity),
		announces: NewAnnouncementTable(),
		rate:      NewRateTracker(),
		pending:   NewPendingRequests(),
		sched:     NewSchedule(cfg),
		ops:       make(chan func(), 256),
		events:    make(chan Event, 128),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Events returns the state-transition stream. Slow consumers lose events
// rather than stalling the engine.
func (m *Manager) Events() <-chan Event { return m.events }

// Start reloads archived packets and launches the run loop.
func (m *Manager) Start() {
	if m.cfg.Archive != nil {
		if pkts, err := m.cfg.Archive.LoadFresh(m.freshCutoffMs(m.now())); err == nil {
			for _, pkt := range pkts {
				m.storePacket(pkt, m.now())
			}
		} else {
			m.logf("archive reload: %v", err)
		}
	}

	m.wg.Add(1)
	go m.run()
}

// Stop cancels the maintenance loop and waits for it to exit. Relay-jitter
// timers elsewhere may still fire afterwards; duplicate sends are harmless
// because receivers dedupe by packet ID.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()

	maint := time.NewTicker(m.cfg.MaintenanceInterval)
	defer maint.Stop()
	peers := time.NewTicker(m.cfg.PeerSweepInterval)
	defer peers.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case op := <-m.ops:
			op()
		case <-maint.C:
			m.maintain(m.now())
		case <-peers.C:
			m.sweepStalePeers(m.now())
		}
	}
}

// do serializes fn onto the run loop. Called from any goroutine.
func (m *Manager) do(fn func()) {
	select {
	case m.ops <- fn:
	case <-m.ctx.Done():
	}
}

// OnPacketSeen is the ingestion entry point for broadcast-class traffic.
// from is the transport-level peer that delivered the packet ("" if
// unknown); it is only used to attribute solicited responses.
func (m *Manager) OnPacketSeen(from string, pkt *proto.Packet) {
	m.do(func() { m.handlePacket(from, pkt) })
}

// HandleRequestSync services an inbound REQUEST_SYNC payload from a peer.
func (m *Manager) HandleRequestSync(from string, payload []byte) {
	m.do(func() { m.serveSyncRequest(from, payload) })
}

// PeerConnected schedules the staggered bootstrap sync sequence toward a
// newly connected peer: messages first, then fragments, then file transfers.
func (m *Manager) PeerConnected(peer string) {
	classes := []syncClass{syncMessages, syncFragments, syncFileTransfers}
	for i, c := range classes {
		c := c
		delay := time.Duration(i+1) * m.cfg.BootstrapSyncDelay
		timer := time.AfterFunc(delay, func() {
			m.do(func() { m.sendSyncRequestTo(peer, c.flag(), m.now()) })
		})
		go func() {
			<-m.ctx.Done()
			timer.Stop()
		}()
	}
}

// Broadcast originates a packet from this node: sign, store locally so it is
// served to sync requests, and send.
func (m *Manager) Broadcast(t proto.PacketType, payload []byte) {
	pkt := &proto.Packet{
		Version:   proto.Version,
		Type:      t,
		TTL:       m.cfg.InitialTTL,
		Timestamp: uint64(m.now().UnixMilli()),
		SenderID:  m.self,
		Payload:   payload,
	}
	if signed, err := m.transport.SignPacket(pkt); err == nil {
		pkt = signed
	} else {
		m.logf("sign broadcast: %v", err)
	}
	m.do(func() { m.storePacket(pkt, m.now()) })
	m.transport.SendPacket(pkt)
}

// Snapshot accessors. They hop through the run loop so callers see a
// consistent view.

func (m *Manager) StoredCounts() (messages, fragments, files, announces int) {
	done := make(chan struct{})
	m.do(func() {
		messages, fragments, files, announces = m.messages.Len(), m.fragments.Len(), m.files.Len(), m.announces.Len()
		close(done)
	})
	select {
	case <-done:
	case <-m.ctx.Done():
	}
	return
}

// NicknameOf resolves a sender's announced display name.
func (m *Manager) NicknameOf(sender proto.SenderID) string {
	var nick string
	done := make(chan struct{})
	m.do(func() {
		nick, _, _ = m.announces.Get(sender)
		close(done)
	})
	select {
	case <-done:
	case <-m.ctx.Done():
	}
	return nick
}

func (m *Manager) emit(e Event) {
	select {
	case m.events <- e:
	default:
		// drop to avoid deadlock
	}
}

func (m *Manager) logf(format string, args ...any) {
	if !m.cfg.Debug {
		return
	}
	l := m.cfg.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("[gossip] "+format, args...)
}

func (m *Manager) freshCutoffMs(now time.Time) uint64 {
	cutoff := now.Add(-m.cfg.MaxAge)
	if cutoff.UnixMilli() < 0 {
		return 0
	}
	return uint64(cutoff.UnixMilli())
}

// maintain is the fast-cadence tick: lazy staleness made eager, plus expiry
// of rate-tracker and pending-request bookkeeping.
func (m *Manager) maintain(now time.Time) {
	cutoff := m.freshCutoffMs(now)
	expired := m.messages.PurgeStale(cutoff) + m.fragments.PurgeStale(cutoff) + m.files.PurgeStale(cutoff)
	if expired > 0 {
		m.emit(Event{Type: EventPacketExpired, Count: expired})
	}
	m.rate.GC(now)
	m.pending.Expire(now, m.cfg.SyncRequestTimeout)
	if m.cfg.Archive != nil {
		if _, err := m.cfg.Archive.SweepStale(cutoff); err != nil {
			m.logf("archive sweep: %v", err)
		}
	}
	m.syncDue(now)
}

// sweepStalePeers is the slow-cadence liveness pass: an announcement past the
// peer timeout takes the sender's announcement and every stored packet
// attributed to it.
func (m *Manager) sweepStalePeers(now time.Time) {
	for _, sender := range m.announces.Sweep(now, m.cfg.PeerTimeout) {
		m.purgeSenderState(sender)
		m.emit(Event{Type: EventPeerPurged, Sender: sender})
	}
}

func (m *Manager) purgeSenderState(sender proto.SenderID) {
	m.announces.Remove(sender)
	n := m.messages.PurgeSender(sender) + m.fragments.PurgeSender(sender) + m.files.PurgeSender(sender)
	m.logf("purged peer %x and %d dependent packets", sender[:4], n)
}
