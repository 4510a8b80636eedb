package gossip

import (
	"time"

	"meshnode/internal/telemetry"
)

// Config is the full runtime-tunable surface of the sync engine. One value is
// built at startup and injected; nothing here is global or mutated later.
type Config struct {
	// Per-type store capacities.
	MessageCapacity      int
	FragmentCapacity     int
	FileTransferCapacity int

	// Freshness window for stored packets and the tolerated forward clock
	// skew on inbound timestamps.
	MaxAge    time.Duration
	ClockSkew time.Duration

	// MaintenanceInterval drives the generic purge tick; PeerSweepInterval
	// and PeerTimeout drive the separate, slower liveness sweep. The two
	// cadences are deliberately decoupled: MaxAge answers "is this message
	// still worth storing", PeerTimeout answers "is this peer still alive".
	MaintenanceInterval time.Duration
	PeerSweepInterval   time.Duration
	PeerTimeout         time.Duration

	// Per-type sync round intervals, staggered by construction.
	MessageSyncInterval      time.Duration
	FragmentSyncInterval     time.Duration
	FileTransferSyncInterval time.Duration

	// SyncRequestTimeout bounds how long a unicast REQUEST_SYNC stays
	// eligible to legitimize solicited responses.
	SyncRequestTimeout time.Duration

	// BootstrapSyncDelay is the base stagger between the per-type sync
	// requests fired at a newly connected peer.
	BootstrapSyncDelay time.Duration

	// Validation tunables.
	RateLimitPerSecond int
	MaxPayloadSize     int
	VerifySignatures   bool
	ContentScan        bool
	ForbiddenPatterns  [][]byte

	// Reconciliation filter tunables.
	FilterTargetFpr float64
	FilterMaxBytes  int

	// InitialTTL is the hop budget on self-originated packets.
	InitialTTL uint8

	Logger  telemetry.Logger
	Debug   bool
	Metrics Metrics
	Archive Archive // optional persistence; nil disables
}

func DefaultConfig() Config {
	return Config{
		MessageCapacity:      500,
		FragmentCapacity:     200,
		FileTransferCapacity: 100,

		MaxAge:    12 * time.Hour,
		ClockSkew: 5 * time.Minute,

		MaintenanceInterval: 30 * time.Second,
		PeerSweepInterval:   3 * time.Minute,
		PeerTimeout:         10 * time.Minute,

		MessageSyncInterval:      1 * time.Minute,
		FragmentSyncInterval:     90 * time.Second,
		FileTransferSyncInterval: 2 * time.Minute,

		SyncRequestTimeout: 30 * time.Second,
		BootstrapSyncDelay: 2 * time.Second,

		RateLimitPerSecond: 30,
		MaxPayloadSize:     16 * 1024,

		FilterTargetFpr: 0.01,
		FilterMaxBytes:  1024,

		InitialTTL: 7,
	}
}

// withDefaults backfills zero values, matching how the rest of the codebase
// treats partially filled configs.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MessageCapacity <= 0 {
		c.MessageCapacity = def.MessageCapacity
	}
	if c.FragmentCapacity <= 0 {
		c.FragmentCapacity = def.FragmentCapacity
	}
	if c.FileTransferCapacity <= 0 {
		c.FileTransferCapacity = def.FileTransferCapacity
	}
	if c.MaxAge <= 0 {
		c.MaxAge = def.MaxAge
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = def.ClockSkew
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = def.MaintenanceInterval
	}
	if c.PeerSweepInterval <= 0 {
		c.PeerSweepInterval = def.PeerSweepInterval
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = def.PeerTimeout
	}
	if c.MessageSyncInterval <= 0 {
		c.MessageSyncInterval = def.MessageSyncInterval
	}
	if c.FragmentSyncInterval <= 0 {
		c.FragmentSyncInterval = def.FragmentSyncInterval
	}
	if c.FileTransferSyncInterval <= 0 {
		c.FileTransferSyncInterval = def.FileTransferSyncInterval
	}
	if c.SyncRequestTimeout <= 0 {
		c.SyncRequestTimeout = def.SyncRequestTimeout
	}
	if c.BootstrapSyncDelay <= 0 {
		c.BootstrapSyncDelay = def.BootstrapSyncDelay
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = def.RateLimitPerSecond
	}
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = def.MaxPayloadSize
	}
	if c.FilterTargetFpr <= 0 {
		c.FilterTargetFpr = def.FilterTargetFpr
	}
	if c.FilterMaxBytes <= 0 {
		c.FilterMaxBytes = def.FilterMaxBytes
	}
	if c.InitialTTL == 0 {
		c.InitialTTL = def.InitialTTL
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics{}
	}
	return c
}
