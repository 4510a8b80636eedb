package mesh

import (
	"sync"
	"time"

	"meshnode/internal/proto"
)

// seenCache remembers recently observed packet IDs so a flood never loops.
// Entries older than the window are swept lazily on insert.
type seenCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[proto.PacketID]time.Time
	sweep  time.Time
}

func newSeenCache(window time.Duration) *seenCache {
	return &seenCache{
		window: window,
		seen:   make(map[proto.PacketID]time.Time),
		sweep:  time.Now(),
	}
}

// Seen marks id observed and reports whether it was already known within the
// window.
func (s *seenCache) Seen(id proto.PacketID) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.sweep) > s.window {
		cutoff := now.Add(-s.window)
		for k, at := range s.seen {
			if at.Before(cutoff) {
				delete(s.seen, k)
			}
		}
		s.sweep = now
	}

	if at, ok := s.seen[id]; ok && now.Sub(at) <= s.window {
		s.seen[id] = now
		return true
	}
	s.seen[id] = now
	return false
}

func (s *seenCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
