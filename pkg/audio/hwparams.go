package audio

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnsupported is wrapped by negotiation methods when a backend cannot
// provide the requested parameter at all.
var ErrUnsupported = errors.New("audio: unsupported parameter")

// CommonRates lists the sample rates backends fall back to, in ascending
// order, when the exact requested rate is refused.
var CommonRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000, 96000}

// DeviceInfo describes one capture device reported by a [Lister].
type DeviceInfo struct {
	// Name is the identifier accepted by [Backend.Open].
	Name string

	// Description is a human-readable label.
	Description string

	// Default marks the backend's default input.
	Default bool
}

// Lister is implemented by backends that can enumerate capture devices.
type Lister interface {
	Devices() ([]DeviceInfo, error)
}

// HWParams accumulates the values requested through the [Device]
// negotiation methods. Backends embed it and validate each request against
// what their library can provide.
type HWParams struct {
	Channels     int
	Rate         int
	PeriodFrames int
}

// CheckAccess returns an error unless a is interleaved access.
func CheckAccess(a Access) error {
	if a != AccessInterleaved {
		return fmt.Errorf("%w: access %s", ErrUnsupported, a)
	}
	return nil
}

// CheckFormat returns an error unless f is S16_LE.
func CheckFormat(f SampleFormat) error {
	if f != FormatS16LE {
		return fmt.Errorf("%w: format %s", ErrUnsupported, f)
	}
	return nil
}

// CheckChannels returns an error unless n is between 1 and limit inclusive.
func CheckChannels(n, limit int) error {
	if n < 1 || n > limit {
		return fmt.Errorf("%w: %d channels (device supports up to %d)", ErrUnsupported, n, limit)
	}
	return nil
}

// Params returns the negotiated parameter set for S16_LE capture.
func (h HWParams) Params() Params {
	return Params{
		SampleRate:   h.Rate,
		Channels:     h.Channels,
		PeriodFrames: h.PeriodFrames,
		Format:       FormatS16LE,
	}
}

// RateCandidates returns hz followed by [CommonRates] ordered by distance
// from hz, without duplicates.
func RateCandidates(hz int) []int {
	out := []int{hz}
	rest := slices.Clone(CommonRates)
	slices.SortStableFunc(rest, func(a, b int) int {
		return abs(a-hz) - abs(b-hz)
	})
	for _, r := range rest {
		if r != hz {
			out = append(out, r)
		}
	}
	return out
}

// PeriodCandidates returns frames followed by its doublings and halvings,
// nearest first.
func PeriodCandidates(frames int) []int {
	out := []int{frames}
	for _, f := range []int{frames * 2, frames / 2, frames * 4, frames / 4} {
		if f > 0 && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
