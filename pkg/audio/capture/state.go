package capture

import "sync/atomic"

// State is the lifecycle state of a [Microphone].
type State int32

const (
	// StateClosed means no capture goroutine is running. A device handle may
	// still be held after a bare [Microphone.Create].
	StateClosed State = iota

	// StateOpening is held while Open creates the device and starts capture.
	StateOpening

	// StateOpen means the capture goroutine is running.
	StateOpen

	// StateClosing is held while the capture goroutine is stopped and joined
	// and the device is drained and closed.
	StateClosing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of the counters kept by a [Microphone] across all of
// its sessions.
type Stats struct {
	Sessions   uint64 // open sessions started
	Periods    uint64 // successful period reads
	Overruns   uint64 // periods dropped because the device overran
	ShortReads uint64 // periods dropped because fewer frames arrived
	ReadErrors uint64 // periods dropped because of a generic read error
	Blocks     uint64 // blocks delivered to the handler
	Bytes      uint64 // bytes delivered to the handler
	Overflows  uint64 // accumulation buffer overflows
}

// Faults returns the number of dropped periods of any kind.
func (s Stats) Faults() uint64 {
	return s.Overruns + s.ShortReads + s.ReadErrors
}

// counters is the live, atomically updated form of [Stats].
type counters struct {
	sessions   atomic.Uint64
	periods    atomic.Uint64
	overruns   atomic.Uint64
	shortReads atomic.Uint64
	readErrors atomic.Uint64
	blocks     atomic.Uint64
	bytes      atomic.Uint64
	overflows  atomic.Uint64
}

func (c *counters) recordRead(r ReadResult) {
	switch r {
	case ReadOK:
		c.periods.Add(1)
	case ReadOverrun:
		c.overruns.Add(1)
	case ReadShort:
		c.shortReads.Add(1)
	case ReadError:
		c.readErrors.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sessions:   c.sessions.Load(),
		Periods:    c.periods.Load(),
		Overruns:   c.overruns.Load(),
		ShortReads: c.shortReads.Load(),
		ReadErrors: c.readErrors.Load(),
		Blocks:     c.blocks.Load(),
		Bytes:      c.bytes.Load(),
		Overflows:  c.overflows.Load(),
	}
}
