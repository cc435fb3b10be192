package capture

import (
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// Handler receives completed delivery blocks.
//
// HandleBlock is invoked synchronously on the capture goroutine with
// interleaved S16LE samples. The slice is reused for the next block and must
// not be retained after the call returns. Implementations must return well
// within one period duration or the next device read is delayed and the
// device may overrun. Handlers must not call Close or Destroy on the
// [Microphone] that invokes them.
type Handler interface {
	HandleBlock(block []byte)
}

// HandlerFunc adapts an ordinary function to the [Handler] interface.
type HandlerFunc func(block []byte)

// HandleBlock calls f(block).
func (f HandlerFunc) HandleBlock(block []byte) { f(block) }

// ReadResult classifies the outcome of a single period read.
type ReadResult int

const (
	// ReadOK means exactly one period was read.
	ReadOK ReadResult = iota

	// ReadOverrun means the device dropped data; the stream was re-prepared.
	ReadOverrun

	// ReadShort means fewer frames than requested were returned.
	ReadShort

	// ReadError means the device reported a generic read failure.
	ReadError
)

// String returns the metric label for the result.
func (r ReadResult) String() string {
	switch r {
	case ReadOK:
		return "ok"
	case ReadOverrun:
		return "overrun"
	case ReadShort:
		return "short"
	case ReadError:
		return "error"
	default:
		return "unknown"
	}
}

// Faulted reports whether the period must be dropped.
func (r ReadResult) Faulted() bool { return r != ReadOK }

// Observer receives capture telemetry. All hooks except SessionOpened,
// SessionClosed and OpenFailed are called from the capture goroutine and must
// not block.
type Observer interface {
	// SessionOpened is called after the capture goroutine has started.
	SessionOpened(p audio.Params)

	// SessionClosed is called after the capture goroutine has been joined
	// and the device released.
	SessionClosed()

	// OpenFailed is called when device creation fails at step.
	OpenFailed(step string)

	// PeriodRead is called once per read with its classification and the
	// time spent blocked in the device.
	PeriodRead(r ReadResult, d time.Duration)

	// BlockDelivered is called after the handler returns.
	BlockDelivered(bytes int, d time.Duration)

	// Overflow is called whenever the accumulation buffer fills up before
	// the delivery threshold.
	Overflow(policy OverflowPolicy)
}

// NopObserver discards all telemetry.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) SessionOpened(audio.Params)           {}
func (NopObserver) SessionClosed()                       {}
func (NopObserver) OpenFailed(string)                    {}
func (NopObserver) PeriodRead(ReadResult, time.Duration) {}
func (NopObserver) BlockDelivered(int, time.Duration)    {}
func (NopObserver) Overflow(OverflowPolicy)              {}
