// Package periodq bridges callback-driven audio APIs to the blocking,
// period-at-a-time [audio.Device] read contract.
//
// Producers push arbitrarily sized chunks of interleaved PCM with
// [Queue.Write]; the queue repacks them into whole periods and hands them to
// a single consumer through [Queue.Read]. When the consumer falls behind and
// the queue is full, the newest period is dropped and the next Read reports
// [audio.ErrOverrun], mirroring how a hardware ring buffer overruns.
package periodq

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
)

var (
	// ErrClosed is returned by Read and Write after Close.
	ErrClosed = errors.New("periodq: closed")

	// ErrTimeout is returned by Read when no period arrived in time.
	ErrTimeout = errors.New("periodq: read timeout")
)

// DefaultDepth is the number of whole periods buffered between producer and
// consumer when New is given a non-positive depth.
const DefaultDepth = 8

// Queue is a bounded FIFO of fixed-size periods. Write may be called from
// any goroutine (typically an audio callback thread); Read must only be
// called by one consumer at a time.
type Queue struct {
	periodBytes int
	timeout     time.Duration

	ch   chan []byte
	free chan []byte

	mu      sync.Mutex // guards partial and fill
	partial []byte
	fill    int

	overrun   atomic.Bool
	dropped   atomic.Uint64
	closed    chan struct{}
	closeOnce sync.Once
}

// New returns a queue of depth periods of periodBytes each. A positive
// timeout bounds every Read.
func New(periodBytes, depth int, timeout time.Duration) *Queue {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Queue{
		periodBytes: periodBytes,
		timeout:     timeout,
		ch:          make(chan []byte, depth),
		free:        make(chan []byte, depth+1),
		partial:     make([]byte, periodBytes),
		closed:      make(chan struct{}),
	}
}

// PeriodBytes returns the size of one period.
func (q *Queue) PeriodBytes() int { return q.periodBytes }

// Write appends p to the queue. It never blocks. Whole periods that do not
// fit are dropped and flagged as an overrun.
func (q *Queue) Write(p []byte) (int, error) {
	select {
	case <-q.closed:
		return 0, ErrClosed
	default:
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		k := copy(q.partial[q.fill:], p)
		q.fill += k
		p = p[k:]
		if q.fill == q.periodBytes {
			q.push(q.partial)
			q.partial = q.take()
			q.fill = 0
		}
	}
	return n, nil
}

func (q *Queue) push(period []byte) {
	select {
	case q.ch <- period:
	default:
		q.overrun.Store(true)
		q.dropped.Add(1)
		q.recycle(period)
	}
}

func (q *Queue) take() []byte {
	select {
	case b := <-q.free:
		return b
	default:
		return make([]byte, q.periodBytes)
	}
}

func (q *Queue) recycle(b []byte) {
	select {
	case q.free <- b:
	default:
	}
}

// Read copies the next whole period into buf and returns the number of bytes
// copied. A pending overrun is reported once as [audio.ErrOverrun] before any
// further data is returned.
func (q *Queue) Read(buf []byte) (int, error) {
	if q.overrun.CompareAndSwap(true, false) {
		return 0, audio.ErrOverrun
	}

	var timeout <-chan time.Time
	if q.timeout > 0 {
		t := time.NewTimer(q.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case p := <-q.ch:
		n := copy(buf, p)
		q.recycle(p)
		return n, nil
	case <-q.closed:
		return 0, ErrClosed
	case <-timeout:
		return 0, ErrTimeout
	}
}

// Reset discards all queued and partially assembled data and clears a
// pending overrun.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fill = 0
	for {
		select {
		case p := <-q.ch:
			q.recycle(p)
		default:
			q.overrun.Store(false)
			return
		}
	}
}

// Len returns the number of whole periods waiting to be read.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns the number of periods discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Close unblocks any pending Read. Further writes are rejected. Safe to call
// more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
