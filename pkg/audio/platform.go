// Package audio defines the device-handle contract consumed by the micpipe
// capture engine.
//
// The two primary abstractions are:
//
//   - [Backend] opens a named capture device and returns a [Device].
//   - [Device] is an opened hardware capture stream. The engine negotiates
//     parameters on it, reads fixed-size periods from it, and finally drains
//     and closes it.
//
// Implementations are provided by backend packages (audio/alsa,
// audio/portaudio, audio/malgo, audio/pulse). The interfaces are deliberately
// narrow so the engine stays decoupled from the OS audio stack.
//
// This package lives under pkg/ because third-party backends are expected to
// implement [Backend] and [Device].
package audio

import "errors"

// ErrOverrun is wrapped by [Device.Read] when the device dropped captured
// data because the application did not read fast enough. The caller is
// expected to call [Device.Prepare] before the next read.
var ErrOverrun = errors.New("audio: capture overrun")

// Backend opens capture devices for one OS audio stack.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Open opens the capture device identified by name. The empty string and
	// "default" select the backend's default input. The returned device has
	// not yet been configured; callers negotiate parameters and then call
	// [Device.Apply].
	Open(name string) (Device, error)
}

// Device is an opened hardware capture stream.
//
// The negotiation methods must be called before [Device.Apply]. After Apply
// the device is read from a single goroutine, while [Device.Drain] and
// [Device.Close] are called from the controlling goroutine only once that
// reader has exited. Implementations therefore need no internal locking
// beyond what their native library requires.
type Device interface {
	// SetAccess selects the buffer layout.
	SetAccess(a Access) error

	// SetFormat selects the sample encoding.
	SetFormat(f SampleFormat) error

	// SetChannels requests an exact channel count.
	SetChannels(n int) error

	// SetRateNear requests a sample rate and returns the closest rate the
	// device supports.
	SetRateNear(hz int) (int, error)

	// SetPeriodSizeNear requests a period size in frames and returns the
	// closest size the device supports.
	SetPeriodSizeNear(frames int) (int, error)

	// Apply finalises the negotiated parameters and prepares the stream.
	Apply() error

	// Read blocks until one period has been captured into buf, which must
	// hold exactly one period. It returns the number of frames read. An error
	// wrapping [ErrOverrun] reports dropped data; a nil error with fewer
	// frames than requested is a short read.
	Read(buf []byte) (frames int, err error)

	// Prepare recovers the stream after an overrun so subsequent reads are
	// valid.
	Prepare() error

	// Drain stops the stream after pending frames have been handled.
	Drain() error

	// Close releases the device. The Device must not be used afterwards.
	Close() error
}
