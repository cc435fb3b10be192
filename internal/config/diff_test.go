package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/micpipe/internal/config"
	"github.com/MrWong99/micpipe/pkg/audio/capture"
	"github.com/MrWong99/micpipe/pkg/audio/sink"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Capture.Fallbacks = []string{"pulse"}

	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantCapture bool
		wantBackend bool
		wantSink    bool
		wantRestart []string
	}{
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name:        "device",
			mutate:      func(c *config.Config) { c.Capture.Device = "hw:2,0" },
			wantCapture: true,
		},
		{
			name:        "overflow policy",
			mutate:      func(c *config.Config) { c.Capture.Overflow = capture.OverflowDropOldest },
			wantCapture: true,
		},
		{
			name:        "wait interval",
			mutate:      func(c *config.Config) { c.Capture.WaitInterval = 10 * time.Millisecond },
			wantCapture: true,
		},
		{
			name:        "backend",
			mutate:      func(c *config.Config) { c.Capture.Backend = "pulse" },
			wantCapture: true,
			wantBackend: true,
		},
		{
			name:        "fallbacks",
			mutate:      func(c *config.Config) { c.Capture.Fallbacks = []string{"portaudio"} },
			wantCapture: true,
			wantBackend: true,
		},
		{
			name:     "sink",
			mutate:   func(c *config.Config) { c.Sink.Kind = sink.KindRaw },
			wantSink: true,
		},
		{
			name:        "listen addr",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":1234" },
			wantRestart: []string{"server.listen_addr"},
		},
		{
			name: "log file and recovery",
			mutate: func(c *config.Config) {
				c.Server.LogFile = "/tmp/x.log"
				c.Recovery.MaxRetries = 3
			},
			wantRestart: []string{"server.log_file", "recovery"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !d.Changed() {
				t.Fatal("expected Changed() = true")
			}
			if d.LogLevelChanged != tt.wantLog {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLog)
			}
			if tt.wantLog && d.NewLogLevel != new.Server.LogLevel {
				t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, new.Server.LogLevel)
			}
			if d.CaptureChanged != tt.wantCapture {
				t.Errorf("CaptureChanged = %v, want %v", d.CaptureChanged, tt.wantCapture)
			}
			if d.BackendChanged != tt.wantBackend {
				t.Errorf("BackendChanged = %v, want %v", d.BackendChanged, tt.wantBackend)
			}
			if d.SinkChanged != tt.wantSink {
				t.Errorf("SinkChanged = %v, want %v", d.SinkChanged, tt.wantSink)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
		})
	}
}
