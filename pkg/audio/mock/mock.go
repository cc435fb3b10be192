// Package mock provides in-memory mock implementations of the [audio.Backend]
// and [audio.Device] interfaces and a recording block handler for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and ordering, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{
//	    Reads: []mock.Read{{Err: audio.ErrOverrun}},
//	}
//	backend := &mock.Backend{Device: dev}
//	mic, _ := capture.New(backend, capture.DefaultConfig())
package mock

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// Event names recorded by [Device] in call order.
const (
	EventOpen      = "open"
	EventReadStart = "read-start"
	EventReadEnd   = "read-end"
	EventPrepare   = "prepare"
	EventApply     = "apply"
	EventDrain     = "drain"
	EventClose     = "close"
)

// ErrClosed is returned by [Device.Read] after Close.
var ErrClosed = errors.New("mock: device closed")

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// Device is returned by every successful Open. If nil, Open creates an
	// empty [Device] on first use and keeps returning it.
	Device *Device

	// OpenError is returned by Open when non-nil.
	OpenError error

	// OpenCalls records the device names passed to Open.
	OpenCalls []string
}

// Open implements [audio.Backend].
func (b *Backend) Open(name string) (audio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenCalls = append(b.OpenCalls, name)
	if b.OpenError != nil {
		return nil, b.OpenError
	}
	if b.Device == nil {
		b.Device = &Device{}
	}
	b.Device.reopen()
	return b.Device, nil
}

// OpenCount returns how many times Open was called.
func (b *Backend) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.OpenCalls)
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Read scripts the outcome of one [Device.Read] call.
type Read struct {
	// Frames is the frame count to report. Zero means a full period.
	Frames int

	// Err, when set, is returned instead of data.
	Err error

	// Fill is the byte written to every sample byte. Zero means the
	// sequence number of the read, starting at 1.
	Fill byte
}

// Device is a mock implementation of [audio.Device].
//
// Reads are served from the Reads script first; once it is exhausted every
// read returns a full period filled with its sequence number.
type Device struct {
	mu sync.Mutex

	// Per-step errors returned by the negotiation methods.
	SetAccessError   error
	SetFormatError   error
	SetChannelsError error
	SetRateError     error
	SetPeriodError   error
	ApplyError       error

	// PrepareError, DrainError and CloseError are returned by the matching
	// methods.
	PrepareError error
	DrainError   error
	CloseError   error

	// GrantRate and GrantPeriodFrames override the negotiated values when
	// positive. Otherwise the requested values are granted unchanged.
	GrantRate         int
	GrantPeriodFrames int

	// Reads is consumed in order by Read.
	Reads []Read

	// ReadDelay is slept outside the lock at the start of every read.
	ReadDelay time.Duration

	channels     int
	periodFrames int
	closed       bool
	seq          int
	events       []string
	opens        int
	readsCalled  int
	prepares     int
	drains       int
	closes       int
	readsClosed  int
}

var _ audio.Device = (*Device)(nil)

func (d *Device) reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
	d.opens++
	d.events = append(d.events, EventOpen)
}

// SetAccess implements [audio.Device].
func (d *Device) SetAccess(audio.Access) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.SetAccessError
}

// SetFormat implements [audio.Device].
func (d *Device) SetFormat(audio.SampleFormat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.SetFormatError
}

// SetChannels implements [audio.Device].
func (d *Device) SetChannels(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SetChannelsError != nil {
		return d.SetChannelsError
	}
	d.channels = n
	return nil
}

// SetRateNear implements [audio.Device].
func (d *Device) SetRateNear(hz int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SetRateError != nil {
		return 0, d.SetRateError
	}
	if d.GrantRate > 0 {
		return d.GrantRate, nil
	}
	return hz, nil
}

// SetPeriodSizeNear implements [audio.Device].
func (d *Device) SetPeriodSizeNear(frames int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SetPeriodError != nil {
		return 0, d.SetPeriodError
	}
	if d.GrantPeriodFrames > 0 {
		frames = d.GrantPeriodFrames
	}
	d.periodFrames = frames
	return frames, nil
}

// Apply implements [audio.Device].
func (d *Device) Apply() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, EventApply)
	return d.ApplyError
}

// Read implements [audio.Device].
func (d *Device) Read(buf []byte) (int, error) {
	d.mu.Lock()
	d.readsCalled++
	d.events = append(d.events, EventReadStart)
	delay := d.ReadDelay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { d.events = append(d.events, EventReadEnd) }()

	if d.closed {
		d.readsClosed++
		return 0, ErrClosed
	}

	d.seq++
	r := Read{}
	if len(d.Reads) > 0 {
		r = d.Reads[0]
		d.Reads = d.Reads[1:]
	}
	if r.Err != nil {
		return 0, r.Err
	}

	frameBytes := max(d.channels, 1) * 2
	frames := r.Frames
	if frames == 0 {
		frames = len(buf) / frameBytes
	}
	fill := r.Fill
	if fill == 0 {
		fill = byte(d.seq)
	}
	n := min(frames*frameBytes, len(buf))
	for i := range buf[:n] {
		buf[i] = fill
	}
	return frames, nil
}

// Prepare implements [audio.Device].
func (d *Device) Prepare() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepares++
	d.events = append(d.events, EventPrepare)
	return d.PrepareError
}

// Drain implements [audio.Device].
func (d *Device) Drain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drains++
	d.events = append(d.events, EventDrain)
	return d.DrainError
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.closed = true
	d.events = append(d.events, EventClose)
	return d.CloseError
}

// Events returns a copy of the recorded call sequence.
func (d *Device) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.events)
}

// Closed reports whether the device is currently closed.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Counts is a snapshot of how often each device method was called.
type Counts struct {
	Opens           int
	Reads           int
	ReadsAfterClose int
	Prepares        int
	Drains          int
	Closes          int
}

// Counts returns the current call counters.
func (d *Device) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Counts{
		Opens:           d.opens,
		Reads:           d.readsCalled,
		ReadsAfterClose: d.readsClosed,
		Prepares:        d.prepares,
		Drains:          d.drains,
		Closes:          d.closes,
	}
}

// ─── Handler ──────────────────────────────────────────────────────────────────

// Handler records every block it receives. Blocks are copied.
type Handler struct {
	mu     sync.Mutex
	blocks [][]byte

	// Delay is slept inside every HandleBlock call.
	Delay time.Duration
}

// HandleBlock records a copy of block.
func (h *Handler) HandleBlock(block []byte) {
	if h.Delay > 0 {
		time.Sleep(h.Delay)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocks = append(h.blocks, slices.Clone(block))
}

// Blocks returns the recorded blocks.
func (h *Handler) Blocks() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.blocks)
}

// Count returns the number of recorded blocks.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks)
}

// WaitFor polls until at least n blocks have been recorded or timeout
// elapses. It reports whether n was reached.
func (h *Handler) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if h.Count() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
