// Package relay makes the flood-control decision for a single packet: relay
// or not, at what TTL, after how much jitter. Decisions are pure with respect
// to stored state; the only internal state is the jitter RNG.
package relay

import (
	"math/rand"
	"sync"
	"time"
)

// Class buckets packets by how aggressively they may flood.
type Class int

const (
	// ClassReliability covers handshakes, directed encrypted payloads and
	// directed fragments. Delivery beats flood suppression for these.
	ClassReliability Class = iota
	// ClassFragment is an undirected fragment: relayed, but under a tighter
	// TTL ceiling to contain multi-fragment blast radius.
	ClassFragment
	// ClassBroadcast is a plain broadcast message.
	ClassBroadcast
	// ClassAnnounce is a presence announcement; it gets one extra hop over
	// plain broadcast.
	ClassAnnounce
)

type Config struct {
	MaxTTL         uint8 // generic ceiling in sparse neighborhoods
	FragmentMaxTTL uint8 // separate, tighter ceiling for undirected fragments

	// Rand supplies jitter; tests inject a seeded source.
	Rand *rand.Rand
}

func DefaultConfig() Config {
	return Config{
		MaxTTL:         7,
		FragmentMaxTTL: 5,
	}
}

// Decision is the relay verdict for one packet at one hop.
type Decision struct {
	Relay bool
	TTL   uint8
	Delay time.Duration
}

type Controller struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

func NewController(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.MaxTTL == 0 {
		cfg.MaxTTL = def.MaxTTL
	}
	if cfg.FragmentMaxTTL == 0 {
		cfg.FragmentMaxTTL = def.FragmentMaxTTL
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{cfg: cfg, rng: rng}
}

// Decide evaluates one received packet. degree is the current count of
// directly connected neighbors.
func (c *Controller) Decide(ttl uint8, fromSelf bool, class Class, degree int) Decision {
	if fromSelf || ttl <= 1 {
		return Decision{}
	}
	newTTL := ttl - 1

	switch class {
	case ClassReliability:
		// Always relay; only a short desync window.
		return Decision{Relay: true, TTL: newTTL, Delay: c.jitter(20*time.Millisecond, 50*time.Millisecond)}

	case ClassFragment:
		if newTTL > c.cfg.FragmentMaxTTL {
			newTTL = c.cfg.FragmentMaxTTL
		}
		return Decision{Relay: true, TTL: newTTL, Delay: c.jitter(50*time.Millisecond, 150*time.Millisecond)}
	}

	cap := c.adaptiveCap(degree)
	if class == ClassAnnounce {
		cap++
	}
	if newTTL > cap {
		newTTL = cap
	}
	return Decision{Relay: true, TTL: newTTL, Delay: c.degreeJitter(degree)}
}

// adaptiveCap clamps the TTL ceiling by local density: dense neighborhoods
// already re-deliver every broadcast many times over, so extra hops buy
// nothing but traffic.
func (c *Controller) adaptiveCap(degree int) uint8 {
	switch {
	case degree >= 10:
		return 3
	case degree >= 6:
		return 4
	case degree >= 3:
		return 5
	default:
		return c.cfg.MaxTTL
	}
}

// degreeJitter widens the random delay window with density. Sparse: relay
// fast, before dedupe windows elsewhere close. Dense: wait longer so a
// neighbor's identical rebroadcast can cancel ours.
func (c *Controller) degreeJitter(degree int) time.Duration {
	base := 20 * time.Millisecond
	width := 60*time.Millisecond + time.Duration(degree)*25*time.Millisecond
	return c.jitter(base, width)
}

func (c *Controller) jitter(base, width time.Duration) time.Duration {
	c.mu.Lock()
	d := time.Duration(c.rng.Int63n(int64(width)))
	c.mu.Unlock()
	return base + d
}
