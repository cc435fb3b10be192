// Command micpipe captures PCM audio from a microphone and streams fixed-size
// blocks into a WAV file, a raw file or stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/micpipe/internal/app"
	"github.com/MrWong99/micpipe/internal/config"
	"github.com/MrWong99/micpipe/internal/observe"
	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/alsa"
	"github.com/MrWong99/micpipe/pkg/audio/malgo"
	"github.com/MrWong99/micpipe/pkg/audio/portaudio"
	"github.com/MrWong99/micpipe/pkg/audio/pulse"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	duration := flag.Duration("duration", 0, "stop capturing after this long (0 runs until interrupted)")
	listDevices := flag.Bool("list-devices", false, "print the capture devices of the configured backends and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "micpipe: config file %q not found; run without -config to use defaults\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "micpipe: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	logger, closeLog := newLogger(cfg.Server.LogFile, &level)
	defer closeLog()
	slog.SetDefault(logger)

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, logger)
	newBackend := app.RegistryBackends(reg, logger)

	backend, err := newBackend(cfg)
	if err != nil {
		slog.Error("failed to build capture backends", "err", err)
		return 1
	}

	if *listDevices {
		return printDevices(backend)
	}

	slog.Info("micpipe starting",
		"version", version,
		"config", *configPath,
		"backend", cfg.Capture.Backend,
		"device", cfg.Capture.Device,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(&level),
		app.WithBackendFactory(newBackend),
	}
	if *configPath != "" {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(cfg, backend, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("capture ready; press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	// Runs after a run error too so the device is released and the sink flushed.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Backend wiring ────────────────────────────────────────────────────────────

func registerBuiltinBackends(reg *config.Registry, log *slog.Logger) {
	reg.RegisterBackend("alsa", func(config.CaptureConfig) (audio.Backend, error) {
		return alsa.New(log), nil
	})
	reg.RegisterBackend("pulse", func(config.CaptureConfig) (audio.Backend, error) {
		return pulse.New(log, pulse.WithApplicationName("micpipe")), nil
	})
	reg.RegisterBackend("portaudio", func(config.CaptureConfig) (audio.Backend, error) {
		return portaudio.New(log), nil
	})
	reg.RegisterBackend("malgo", func(c config.CaptureConfig) (audio.Backend, error) {
		return malgo.New(log, malgo.WithQueueDepth(c.MaxBlocks)), nil
	})
	log.Debug("capture backends registered", "names", reg.Backends())
}

func printDevices(b audio.Backend) int {
	l, ok := b.(audio.Lister)
	if !ok {
		fmt.Fprintln(os.Stderr, "micpipe: backend cannot enumerate devices")
		return 1
	}
	devices, err := l.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "micpipe: list devices: %v\n", err)
		return 1
	}
	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		fmt.Printf("%s %-24s %s\n", mark, d.Name, d.Description)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	c := cfg.Capture
	p := audio.Params{
		SampleRate:   c.SampleRate,
		Channels:     c.Channels,
		Format:       audio.FormatS16LE,
		PeriodFrames: c.PeriodFrames,
	}
	blockDur := time.Duration(c.BlockBytes/p.FrameBytes()) * time.Second / time.Duration(c.SampleRate)

	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║        micpipe · startup summary      ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printRow("Backends", fmt.Sprint(c.Backends()))
	printRow("Device", c.Device)
	printRow("Requested", p.String())
	printRow("Period", humanize.IBytes(uint64(p.PeriodBytes()))+" / "+p.PeriodDuration().String())
	printRow("Block", humanize.IBytes(uint64(c.BlockBytes))+" / "+blockDur.String())
	printRow("Overflow", string(c.Overflow))
	printRow("Sink", string(cfg.Sink.Kind)+" "+cfg.Sink.Path)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 22 {
		value = value[:19] + "..."
	}
	fmt.Fprintf(os.Stderr, "║  %-11s : %-22s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger writes text logs to stderr, or to a size-rotated file when path
// is set. Summary output goes to stderr too so a raw sink on stdout stays
// clean.
func newLogger(path string, level *slog.LevelVar) (*slog.Logger, func()) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		w = lj
		closeFn = func() { _ = lj.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn
}
