package capture

import (
	"errors"
	"fmt"
	"time"
)

// Defaults mirror the reference microphone configuration: 8 kHz mono,
// 160-byte delivery blocks and room for 32 periods of accumulation.
const (
	DefaultDevice       = "default"
	DefaultSampleRate   = 8000
	DefaultChannels     = 1
	DefaultPeriodFrames = 160
	DefaultBlockBytes   = 160
	DefaultMaxBlocks    = 32
	DefaultWaitInterval = time.Millisecond
)

// OverflowPolicy decides what happens when the accumulation buffer fills up
// before the delivery threshold is reached.
type OverflowPolicy string

const (
	// OverflowFlush delivers whatever has accumulated, even though it does
	// not land on a threshold boundary, and starts a new block.
	OverflowFlush OverflowPolicy = "flush"

	// OverflowDropOldest discards the oldest period to make room for the
	// next one. Nothing is delivered until the threshold is hit.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// IsValid reports whether p is a recognised overflow policy.
func (p OverflowPolicy) IsValid() bool {
	return p == OverflowFlush || p == OverflowDropOldest
}

// Config is the capture configuration. It is copied into the [Microphone]
// at construction and cannot change while a device handle is held.
type Config struct {
	// Device names the capture device passed to [audio.Backend.Open].
	Device string

	// SampleRate is the requested rate in Hz. The device may grant a nearby rate.
	SampleRate int

	// Channels is 1 (mono) or 2 (stereo).
	Channels int

	// PeriodFrames is the requested number of frames per device read.
	PeriodFrames int

	// BlockBytes is the delivery threshold: a block is handed to the handler
	// whenever the accumulated byte count is an exact multiple of it.
	BlockBytes int

	// MaxBlocks is the accumulation depth in periods.
	MaxBlocks int

	// Overflow selects the recovery applied when MaxBlocks periods have
	// accumulated without reaching the threshold.
	Overflow OverflowPolicy

	// WaitInterval bounds how long the capture goroutine waits on the stop
	// signal before each read. Zero only polls.
	WaitInterval time.Duration
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Device:       DefaultDevice,
		SampleRate:   DefaultSampleRate,
		Channels:     DefaultChannels,
		PeriodFrames: DefaultPeriodFrames,
		BlockBytes:   DefaultBlockBytes,
		MaxBlocks:    DefaultMaxBlocks,
		Overflow:     OverflowFlush,
		WaitInterval: DefaultWaitInterval,
	}
}

// withDefaults fills zero-valued fields from [DefaultConfig].
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Device == "" {
		c.Device = d.Device
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	if c.PeriodFrames == 0 {
		c.PeriodFrames = d.PeriodFrames
	}
	if c.BlockBytes == 0 {
		c.BlockBytes = d.BlockBytes
	}
	if c.MaxBlocks == 0 {
		c.MaxBlocks = d.MaxBlocks
	}
	if c.Overflow == "" {
		c.Overflow = d.Overflow
	}
	return c
}

// Validate checks that c describes a usable capture session. It returns a
// joined error listing every problem found.
func (c Config) Validate() error {
	var errs []error

	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", c.SampleRate))
	}
	if c.Channels != 1 && c.Channels != 2 {
		errs = append(errs, fmt.Errorf("channels %d is invalid; valid values: 1, 2", c.Channels))
	}
	if c.PeriodFrames <= 0 {
		errs = append(errs, fmt.Errorf("period_frames %d must be positive", c.PeriodFrames))
	}
	if c.BlockBytes <= 0 {
		errs = append(errs, fmt.Errorf("block_bytes %d must be positive", c.BlockBytes))
	} else if c.Channels > 0 && c.BlockBytes%(c.Channels*2) != 0 {
		errs = append(errs, fmt.Errorf("block_bytes %d is not a whole number of %d-byte frames", c.BlockBytes, c.Channels*2))
	}
	if c.MaxBlocks <= 0 {
		errs = append(errs, fmt.Errorf("max_blocks %d must be positive", c.MaxBlocks))
	}
	if !c.Overflow.IsValid() {
		errs = append(errs, fmt.Errorf("overflow %q is invalid; valid values: flush, drop_oldest", c.Overflow))
	}
	if c.WaitInterval < 0 {
		errs = append(errs, fmt.Errorf("wait_interval %v must not be negative", c.WaitInterval))
	}

	return errors.Join(errs...)
}

// periodsPerBlock returns how many periods of periodBytes must accumulate
// before the byte count first lands on a multiple of blockBytes, or 0 if that
// never happens within maxBlocks periods.
func periodsPerBlock(periodBytes, blockBytes, maxBlocks int) int {
	for n := 1; n <= maxBlocks; n++ {
		if (n*periodBytes)%blockBytes == 0 {
			return n
		}
	}
	return 0
}
