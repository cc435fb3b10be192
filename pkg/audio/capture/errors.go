package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceOpen is matched by every [OpenError]: the device could not be
	// opened or a hardware parameter could not be negotiated.
	ErrDeviceOpen = errors.New("capture: device open failed")

	// ErrAlreadyOpen is returned by [Microphone.Create] when a device handle
	// is already held.
	ErrAlreadyOpen = errors.New("capture: device handle already held")

	// ErrBusy is returned by [Microphone.Reconfigure] while a device handle is
	// held or a session is running.
	ErrBusy = errors.New("capture: microphone is busy")
)

// Negotiation steps reported in [OpenError.Step].
const (
	StepOpen     = "open"
	StepAccess   = "access"
	StepFormat   = "format"
	StepChannels = "channels"
	StepRate     = "sample_rate"
	StepPeriod   = "period_size"
	StepApply    = "apply"
)

// OpenError describes which step of device creation failed.
type OpenError struct {
	Device string
	Step   string
	Err    error
}

// Error implements error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("capture: open %q: %s: %v", e.Device, e.Step, e.Err)
}

// Unwrap returns the backend error.
func (e *OpenError) Unwrap() error { return e.Err }

// Is makes every OpenError match [ErrDeviceOpen].
func (e *OpenError) Is(target error) bool { return target == ErrDeviceOpen }
