package capture

import (
	"sync"
	"time"
)

// worker runs one function on a dedicated goroutine and gives it a bounded
// wait on a stop signal. It replaces ad-hoc running flags and polling joins:
// the controller calls Stop and then Join, which returns only after the
// function has returned.
type worker struct {
	stop     chan struct{}
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startWorker starts fn on a new goroutine. fn receives the worker so it can
// call [worker.Wait].
func startWorker(fn func(w *worker)) *worker {
	w := &worker{
		stop: make(chan struct{}),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		fn(w)
	}()
	return w
}

// Wait blocks for at most d. It returns false as soon as a stop has been
// requested and true after a wake signal or the timeout. A pending stop always
// wins over a pending wake. With d <= 0 it only polls.
func (w *worker) Wait(d time.Duration) bool {
	select {
	case <-w.stop:
		return false
	default:
	}
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-w.stop:
		return false
	case <-w.wake:
		return true
	case <-t.C:
		return true
	}
}

// Signal wakes a pending Wait early. It never blocks.
func (w *worker) Signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop requests the goroutine to exit. Safe to call more than once.
func (w *worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Join blocks until the goroutine has returned.
func (w *worker) Join() {
	<-w.done
}

// Done returns a channel that is closed once the goroutine has returned.
func (w *worker) Done() <-chan struct{} {
	return w.done
}
