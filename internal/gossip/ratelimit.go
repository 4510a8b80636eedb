package gossip

import (
	"time"

	"meshnode/internal/proto"
)

// RateTracker keeps a sliding one-second window of receipt times per sender.
// Like the stores, it is owned by the engine's run loop.
type RateTracker struct {
	window time.Duration
	hits   map[proto.SenderID][]time.Time
}

func NewRateTracker() *RateTracker {
	return &RateTracker{
		window: time.Second,
		hits:   make(map[proto.SenderID][]time.Time),
	}
}

// Allow records one receipt for sender and reports whether it stays within
// limit packets per window. Rejected receipts are not recorded, so an
// over-limit burst does not extend the sender's penalty.
func (r *RateTracker) Allow(sender proto.SenderID, now time.Time, limit int) bool {
	cutoff := now.Add(-r.window)
	recent := r.hits[sender][:0]
	for _, t := range r.hits[sender] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= limit {
		r.hits[sender] = recent
		return false
	}
	r.hits[sender] = append(recent, now)
	return true
}

// GC drops senders with no recent receipts.
func (r *RateTracker) GC(now time.Time) {
	cutoff := now.Add(-r.window)
	for sender, times := range r.hits {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(r.hits, sender)
		}
	}
}
