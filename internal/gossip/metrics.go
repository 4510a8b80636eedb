package gossip

import "sync/atomic"

// Metrics is intentionally tiny and dependency-free.
// Implementations must be thread-safe.
type Metrics interface {
	IncAccepted()
	IncDropped(reason string)
	IncSyncRound()
	AddSyncServed(n int)
}

// NoopMetrics is the default.
type NoopMetrics struct{}

func (NoopMetrics) IncAccepted()      {}
func (NoopMetrics) IncDropped(string) {}
func (NoopMetrics) IncSyncRound()     {}
func (NoopMetrics) AddSyncServed(int) {}

type AtomicMetrics struct {
	accepted   atomic.Uint64
	dropped    atomic.Uint64
	syncRounds atomic.Uint64
	syncServed atomic.Uint64
}

func (m *AtomicMetrics) IncAccepted()        { m.accepted.Add(1) }
func (m *AtomicMetrics) IncDropped(string)   { m.dropped.Add(1) }
func (m *AtomicMetrics) IncSyncRound()       { m.syncRounds.Add(1) }
func (m *AtomicMetrics) AddSyncServed(n int) { m.syncServed.Add(uint64(n)) }

func (m *AtomicMetrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"accepted":    m.accepted.Load(),
		"dropped":     m.dropped.Load(),
		"sync_rounds": m.syncRounds.Load(),
		"sync_served": m.syncServed.Load(),
	}
}
