// Package stream reassembles discrete protocol frames from an arbitrarily
// chunked byte stream, e.g. radio notifications that split frames at any
// boundary.
package stream

import (
	"errors"
	"time"

	"meshnode/internal/proto"
)

type Config struct {
	// MaxFrameLen is the hard cap on a single frame's declared length.
	// A frame declaring more is treated as stream corruption.
	MaxFrameLen int
	// MaxBufferLen bounds how much unparsed data may accumulate before the
	// buffer is considered hopeless and reset.
	MaxBufferLen int
	// Now overrides the clock for tests.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MaxFrameLen:  64 * 1024,
		MaxBufferLen: 256 * 1024,
	}
}

// Result is what one Append call produced.
type Result struct {
	Frames  [][]byte // complete frames, in stream order
	Dropped []byte   // prefix bytes discarded during resync
	Reset   bool     // true if the whole buffer was discarded
}

// Assembler buffers incoming chunks and extracts complete frames. It is not
// safe for concurrent use; each connection owns its own assembler.
type Assembler struct {
	cfg          Config
	buf          []byte
	pendingSince time.Time
}

func New(cfg Config) *Assembler {
	def := DefaultConfig()
	if cfg.MaxFrameLen <= 0 {
		cfg.MaxFrameLen = def.MaxFrameLen
	}
	if cfg.MaxBufferLen <= 0 {
		cfg.MaxBufferLen = def.MaxBufferLen
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Assembler{cfg: cfg}
}

// Append adds a chunk to the buffer and extracts every complete frame now
// available. A corrupt version byte drops a single byte and resyncs; a frame
// declaring an over-cap length, or an unparseable buffer growing past the
// buffer cap, discards everything.
func (a *Assembler) Append(chunk []byte) Result {
	var res Result
	a.buf = append(a.buf, chunk...)

	for len(a.buf) > 0 {
		want, err := proto.FrameLength(a.buf)
		switch {
		case errors.Is(err, proto.ErrUnknownVersion):
			// Single-byte resync: a later valid frame may still be intact.
			res.Dropped = append(res.Dropped, a.buf[0])
			a.buf = a.buf[1:]
			continue

		case errors.Is(err, proto.ErrShortHeader):
			if len(a.buf) > a.cfg.MaxBufferLen {
				a.reset(&res)
				return res
			}
			a.markPending()
			return res

		case err != nil:
			a.reset(&res)
			return res
		}

		if want > a.cfg.MaxFrameLen {
			a.reset(&res)
			return res
		}
		if len(a.buf) < want {
			a.markPending()
			return res
		}

		frame := append([]byte(nil), a.buf[:want]...)
		res.Frames = append(res.Frames, frame)
		a.buf = a.buf[want:]
		a.pendingSince = time.Time{}
	}
	return res
}

// PendingFor reports how long an incomplete frame has been waiting for more
// bytes, for stall detection by the caller. Zero means nothing is pending.
func (a *Assembler) PendingFor(now time.Time) time.Duration {
	if a.pendingSince.IsZero() {
		return 0
	}
	return now.Sub(a.pendingSince)
}

// Buffered returns the number of unconsumed bytes held.
func (a *Assembler) Buffered() int { return len(a.buf) }

func (a *Assembler) markPending() {
	if a.pendingSince.IsZero() {
		a.pendingSince = a.cfg.Now()
	}
}

func (a *Assembler) reset(res *Result) {
	a.buf = nil
	a.pendingSince = time.Time{}
	res.Reset = true
}
