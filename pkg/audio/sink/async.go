package sink

import (
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/micpipe/pkg/audio/capture"
)

// DefaultQueueDepth is the Async queue depth used when none is given.
const DefaultQueueDepth = 64

// Async moves block handling off the capture goroutine. Blocks are copied
// into a bounded queue and handed to the wrapped handler by a dedicated
// goroutine; when the queue is full the block is dropped and counted.
type Async struct {
	next    capture.Handler
	q       chan []byte
	done    chan struct{}
	onDrop  func()
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

var _ Sink = (*Async)(nil)

// AsyncOption configures an [Async].
type AsyncOption func(*Async)

// WithDropHook installs fn, called on the capture goroutine for every
// dropped block. It must not block.
func WithDropHook(fn func()) AsyncOption {
	return func(a *Async) { a.onDrop = fn }
}

// NewAsync starts a writer goroutine feeding next. A non-positive depth uses
// [DefaultQueueDepth].
func NewAsync(next capture.Handler, depth int, opts ...AsyncOption) *Async {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	a := &Async{
		next: next,
		q:    make(chan []byte, depth),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for block := range a.q {
		a.next.HandleBlock(block)
	}
}

// HandleBlock implements [capture.Handler]. It never blocks.
func (a *Async) HandleBlock(block []byte) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.q <- slices.Clone(block):
	default:
		a.dropped.Add(1)
		if a.onDrop != nil {
			a.onDrop()
		}
	}
}

// Dropped returns the number of blocks dropped because the queue was full.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting blocks, waits until every queued block has been
// handled and then closes the wrapped handler if it is an [io.Closer].
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.q)
	a.mu.Unlock()

	<-a.done
	if c, ok := a.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
