// Package sink provides consumers for the delivery blocks produced by the
// capture engine: file writers, a channel adapter, an asynchronous
// decoupling stage and a fan-out.
//
// Every sink implements [capture.Handler] and [io.Closer]. HandleBlock is
// called on the capture goroutine, so sinks that may block on I/O should be
// wrapped in [Async].
package sink

import (
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/MrWong99/micpipe/pkg/audio/capture"
)

// ErrClosed is recorded when a block arrives after Close.
var ErrClosed = errors.New("sink: closed")

// Sink consumes delivery blocks until it is closed.
type Sink interface {
	capture.Handler
	io.Closer
}

// ─── Raw ──────────────────────────────────────────────────────────────────────

// Raw writes every block verbatim to an [io.Writer]. The first write error is
// kept and reported by Err and Close; later blocks are dropped.
type Raw struct {
	mu     sync.Mutex
	w      io.Writer
	err    error
	n      int64
	closed bool
}

var _ Sink = (*Raw)(nil)

// NewRaw returns a sink writing to w. If w is an [io.Closer] it is closed by
// Close.
func NewRaw(w io.Writer) *Raw {
	return &Raw{w: w}
}

// HandleBlock implements [capture.Handler].
func (r *Raw) HandleBlock(block []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil || r.closed {
		return
	}
	n, err := r.w.Write(block)
	r.n += int64(n)
	r.err = err
}

// Written returns the number of bytes written so far.
func (r *Raw) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Err returns the first write error.
func (r *Raw) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close implements [io.Closer].
func (r *Raw) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var cerr error
	if c, ok := r.w.(io.Closer); ok {
		cerr = c.Close()
	}
	return errors.Join(r.err, cerr)
}

// ─── Discard ──────────────────────────────────────────────────────────────────

// Discard drops every block.
type Discard struct{}

var _ Sink = Discard{}

// HandleBlock implements [capture.Handler].
func (Discard) HandleBlock([]byte) {}

// Close implements [io.Closer].
func (Discard) Close() error { return nil }

// ─── Chan ─────────────────────────────────────────────────────────────────────

// Chan forwards a copy of every block to a buffered channel. When the
// consumer falls behind, blocks are dropped rather than stalling capture.
type Chan struct {
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped uint64
}

var _ Sink = (*Chan)(nil)

// NewChan returns a channel sink with the given buffer depth.
func NewChan(depth int) *Chan {
	return &Chan{ch: make(chan []byte, max(depth, 0))}
}

// C returns the receive side. It is closed by Close.
func (c *Chan) C() <-chan []byte { return c.ch }

// HandleBlock implements [capture.Handler].
func (c *Chan) HandleBlock(block []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- slices.Clone(block):
	default:
		c.dropped++
	}
}

// Dropped returns the number of blocks dropped because the channel was full.
func (c *Chan) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close implements [io.Closer].
func (c *Chan) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}

// ─── Multi ────────────────────────────────────────────────────────────────────

// Multi fans every block out to several handlers in order.
type Multi struct {
	handlers []capture.Handler
}

var _ Sink = (*Multi)(nil)

// NewMulti returns a fan-out over handlers. Nil handlers are skipped.
func NewMulti(handlers ...capture.Handler) *Multi {
	m := &Multi{}
	for _, h := range handlers {
		if h != nil {
			m.handlers = append(m.handlers, h)
		}
	}
	return m
}

// HandleBlock implements [capture.Handler].
func (m *Multi) HandleBlock(block []byte) {
	for _, h := range m.handlers {
		h.HandleBlock(block)
	}
}

// Close closes every handler that is an [io.Closer] and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, h := range m.handlers {
		if c, ok := h.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
