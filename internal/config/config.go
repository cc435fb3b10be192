// Package config provides the configuration schema, loader, watcher and
// backend registry for the micpipe daemon.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio/capture"
	"github.com/MrWong99/micpipe/pkg/audio/sink"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the [slog.Level] for l. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Capture  CaptureConfig  `yaml:"capture"`
	Sink     SinkConfig     `yaml:"sink"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics.
	// Defaults to ":9464".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile redirects logs to a size-rotated file. Empty logs to stderr.
	LogFile string `yaml:"log_file"`
}

// CaptureConfig selects the device backend and the capture parameters.
// Any change to this section closes and reopens the microphone.
type CaptureConfig struct {
	// Backend selects the registered backend implementation
	// (e.g., "alsa", "pulse", "portaudio", "malgo").
	Backend string `yaml:"backend"`

	// Fallbacks are tried in order when Backend cannot open the device.
	Fallbacks []string `yaml:"fallbacks"`

	// Device names the capture device. "default" selects the backend's
	// default input.
	Device string `yaml:"device"`

	SampleRate   int `yaml:"sample_rate"`
	Channels     int `yaml:"channels"`
	PeriodFrames int `yaml:"period_frames"`

	// BlockBytes is the delivery threshold in bytes.
	BlockBytes int `yaml:"block_bytes"`

	// MaxBlocks is the accumulation depth in periods.
	MaxBlocks int `yaml:"max_blocks"`

	// Overflow is "flush" or "drop_oldest".
	Overflow capture.OverflowPolicy `yaml:"overflow"`

	// WaitInterval bounds the capture goroutine's stop-signal wait.
	WaitInterval time.Duration `yaml:"wait_interval"`
}

// Engine converts c into the capture engine's configuration.
func (c CaptureConfig) Engine() capture.Config {
	return capture.Config{
		Device:       c.Device,
		SampleRate:   c.SampleRate,
		Channels:     c.Channels,
		PeriodFrames: c.PeriodFrames,
		BlockBytes:   c.BlockBytes,
		MaxBlocks:    c.MaxBlocks,
		Overflow:     c.Overflow,
		WaitInterval: c.WaitInterval,
	}
}

// Backends returns the primary backend followed by the fallbacks.
func (c CaptureConfig) Backends() []string {
	out := make([]string, 0, 1+len(c.Fallbacks))
	out = append(out, c.Backend)
	return append(out, c.Fallbacks...)
}

// SinkConfig selects where delivered blocks go.
type SinkConfig struct {
	// Kind is "wav", "raw" or "discard".
	Kind sink.Kind `yaml:"kind"`

	// Path is the output file. A raw sink with path "-" writes to stdout.
	Path string `yaml:"path"`

	// QueueDepth is the number of blocks buffered between the capture
	// goroutine and the sink writer.
	QueueDepth int `yaml:"queue_depth"`
}

// RecoveryConfig tunes device reopen retries and backend circuit breakers.
type RecoveryConfig struct {
	// MaxRetries per reopen cycle. -1 retries forever.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the initial delay between attempts.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BreakerFailures is the number of consecutive open failures after which
	// a backend is skipped.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerReset is how long a tripped backend is skipped before a probe.
	BreakerReset time.Duration `yaml:"breaker_reset"`
}
