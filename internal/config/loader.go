package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio/capture"
	"github.com/MrWong99/micpipe/pkg/audio/sink"
	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the backends shipped with micpipe.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = []string{"alsa", "pulse", "portaudio", "malgo"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":9464"
	DefaultBackend         = "alsa"
	DefaultQueueDepth      = sink.DefaultQueueDepth
	DefaultMaxRetries      = 10
	DefaultBackoff         = 500 * time.Millisecond
	DefaultMaxBackoff      = 30 * time.Second
	DefaultBreakerFailures = 3
	DefaultBreakerReset    = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}

	d := capture.DefaultConfig()
	c := &cfg.Capture
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
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
	if c.WaitInterval == 0 {
		c.WaitInterval = d.WaitInterval
	}

	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = sink.KindDiscard
	}
	if cfg.Sink.QueueDepth == 0 {
		cfg.Sink.QueueDepth = DefaultQueueDepth
	}

	r := &cfg.Recovery
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.Backoff == 0 {
		r.Backoff = DefaultBackoff
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = DefaultMaxBackoff
	}
	if r.BreakerFailures == 0 {
		r.BreakerFailures = DefaultBreakerFailures
	}
	if r.BreakerReset == 0 {
		r.BreakerReset = DefaultBreakerReset
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	if cfg.Capture.Backend == "" {
		errs = append(errs, errors.New("capture.backend is required"))
	}
	seen := make(map[string]int)
	for i, name := range cfg.Capture.Backends() {
		if name == "" {
			if i > 0 {
				errs = append(errs, fmt.Errorf("capture.fallbacks[%d] is empty", i-1))
			}
			continue
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("capture backend %q is listed twice (positions %d and %d)", name, prev, i))
		}
		seen[name] = i
		validateBackendName(name)
	}
	if err := cfg.Capture.Engine().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}

	// Sink
	if !cfg.Sink.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("sink.kind %q is invalid; valid values: wav, raw, discard", cfg.Sink.Kind))
	}
	if cfg.Sink.Kind == sink.KindWAV && cfg.Sink.Path == "" {
		errs = append(errs, errors.New("sink.path is required when kind is wav"))
	}
	if cfg.Sink.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("sink.queue_depth %d must not be negative", cfg.Sink.QueueDepth))
	}

	// Recovery
	r := cfg.Recovery
	if r.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("recovery.max_retries %d is invalid; use -1 to retry forever", r.MaxRetries))
	}
	if r.Backoff < 0 || r.MaxBackoff < 0 || r.BreakerReset < 0 {
		errs = append(errs, errors.New("recovery durations must not be negative"))
	}
	if r.MaxBackoff > 0 && r.Backoff > r.MaxBackoff {
		errs = append(errs, fmt.Errorf("recovery.backoff %v exceeds recovery.max_backoff %v", r.Backoff, r.MaxBackoff))
	}
	if r.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("recovery.breaker_failures %d must not be negative", r.BreakerFailures))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is not one of
// [ValidBackendNames]. Third-party backends registered at runtime are
// allowed.
func validateBackendName(name string) {
	if slices.Contains(ValidBackendNames, name) {
		return
	}
	slog.Warn("unknown capture backend; may be a typo or third-party backend",
		"name", name,
		"known", ValidBackendNames,
	)
}
