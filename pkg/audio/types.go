package audio

import (
	"fmt"
	"time"
)

// SampleFormat identifies the on-the-wire sample encoding of captured PCM.
type SampleFormat int

const (
	// FormatS16LE is signed 16-bit little-endian PCM. It is the only format
	// the capture engine accepts.
	FormatS16LE SampleFormat = iota
)

// String returns the ALSA-style name of the sample format.
func (f SampleFormat) String() string {
	switch f {
	case FormatS16LE:
		return "S16_LE"
	default:
		return "UNKNOWN"
	}
}

// BytesPerSample returns the storage size of one sample in f.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16LE:
		return 2
	default:
		return 0
	}
}

// Access selects how samples are laid out in read buffers.
type Access int

const (
	// AccessInterleaved stores channels sample-by-sample (L R L R ...).
	AccessInterleaved Access = iota
)

// String returns the human-readable name of the access mode.
func (a Access) String() string {
	switch a {
	case AccessInterleaved:
		return "RW_INTERLEAVED"
	default:
		return "UNKNOWN"
	}
}

// Params is the parameter set negotiated with a capture device. It is fixed
// for the lifetime of one open session; changing it requires a full
// close/reopen cycle.
type Params struct {
	// SampleRate in Hz as granted by the device (may differ from the request).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// PeriodFrames is the number of frames returned by a single read.
	PeriodFrames int

	// Format is the sample encoding.
	Format SampleFormat
}

// FrameBytes returns the size of one interleaved frame in bytes.
func (p Params) FrameBytes() int {
	return p.Channels * p.Format.BytesPerSample()
}

// PeriodBytes returns the size of one period in bytes.
func (p Params) PeriodBytes() int {
	return p.PeriodFrames * p.FrameBytes()
}

// PeriodDuration returns how much audio one period holds. A read callback that
// blocks for about this long risks a device-side overrun.
func (p Params) PeriodDuration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.PeriodFrames) * time.Second / time.Duration(p.SampleRate)
}

// String returns a compact description such as "8000Hz mono S16_LE 160f".
func (p Params) String() string {
	return fmt.Sprintf("%s %s %df", formatString(p.SampleRate, p.Channels), p.Format, p.PeriodFrames)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
