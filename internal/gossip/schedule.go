package gossip

import (
	"time"

	"meshnode/internal/proto"
)

// syncClass is one independently scheduled type-class of sync traffic.
type syncClass int

const (
	syncMessages syncClass = iota
	syncFragments
	syncFileTransfers
	numSyncClasses
)

func (c syncClass) flag() uint8 {
	switch c {
	case syncMessages:
		// Announcements ride along with the message round.
		return proto.SyncMessages | proto.SyncAnnouncements
	case syncFragments:
		return proto.SyncFragments
	default:
		return proto.SyncFileTransfers
	}
}

// Schedule staggers sync rounds: each class has its own interval and
// last-sent mark, so the classes drift apart instead of firing together.
type Schedule struct {
	interval [numSyncClasses]time.Duration
	lastSent [numSyncClasses]time.Time
}

func NewSchedule(cfg Config) *Schedule {
	s := &Schedule{}
	s.interval[syncMessages] = cfg.MessageSyncInterval
	s.interval[syncFragments] = cfg.FragmentSyncInterval
	s.interval[syncFileTransfers] = cfg.FileTransferSyncInterval
	return s
}

// Due returns the classes whose interval has elapsed.
func (s *Schedule) Due(now time.Time) []syncClass {
	var due []syncClass
	for c := syncClass(0); c < numSyncClasses; c++ {
		if s.lastSent[c].IsZero() || now.Sub(s.lastSent[c]) >= s.interval[c] {
			due = append(due, c)
		}
	}
	return due
}

func (s *Schedule) MarkSent(c syncClass, now time.Time) {
	s.lastSent[c] = now
}
