// Package app wires the micpipe subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New builds the microphone, the
// reopen loop and the HTTP surface, Run executes them until the context is
// cancelled, and Shutdown stops capture and flushes the sink.
//
// For testing, inject the backend directly and attach taps with [WithTap].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/micpipe/internal/config"
	"github.com/MrWong99/micpipe/internal/health"
	"github.com/MrWong99/micpipe/internal/observe"
	"github.com/MrWong99/micpipe/internal/resilience"
	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/capture"
	"github.com/MrWong99/micpipe/pkg/audio/sink"
)

// ErrShutdown is returned by open attempts made after [App.Shutdown].
var ErrShutdown = errors.New("app: shut down")

// App owns all subsystem lifetimes.
type App struct {
	log        *slog.Logger
	level      *slog.LevelVar
	metrics    *observe.Metrics
	backend    *backendRef
	newBackend BackendFactory
	configPath string
	taps       []capture.Handler

	mic      *capture.Microphone
	observer *observe.CaptureObserver
	reopener *resilience.Reopener
	handler  http.Handler
	server   *http.Server

	// mu serialises open, reload and shutdown, and guards the fields below.
	mu     sync.Mutex
	cfg    *config.Config
	out    sink.Sink
	closed bool

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metric instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigPath enables hot reload of the config file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithBackendFactory is used to rebuild the backend chain when
// capture.backend or capture.fallbacks change on reload. Without it those
// changes are logged and ignored.
func WithBackendFactory(f BackendFactory) Option {
	return func(a *App) { a.newBackend = f }
}

// WithTap adds a handler that receives every delivered block on the capture
// goroutine, next to the configured sink. It must not block.
func WithTap(h capture.Handler) Option {
	return func(a *App) { a.taps = append(a.taps, h) }
}

// New creates an App capturing from backend with cfg. The microphone is not
// opened until [App.Run].
func New(cfg *config.Config, backend audio.Backend, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{
		cfg:     cfg,
		backend: &backendRef{b: backend},
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.observer = observe.NewCaptureObserver(a.metrics, captureLabels(cfg.Capture)...)
	mic, err := capture.New(a.backend, cfg.Capture.Engine(),
		capture.WithLogger(a.log),
		capture.WithObserver(a.observer),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.mic = mic

	a.reopener = resilience.NewReopener(resilience.ReopenerConfig{
		Open:       a.open,
		MaxRetries: cfg.Recovery.MaxRetries,
		Backoff:    cfg.Recovery.Backoff,
		MaxBackoff: cfg.Recovery.MaxBackoff,
		OnOpen: func() {
			a.log.Info("capturing", "session", a.mic.SessionID(), "params", a.mic.Params().String())
		},
		OnGiveUp: func(err error) {
			a.log.Error("microphone unavailable; waiting for config change", "err", err)
		},
		Logger: a.log,
	})

	hh := health.New(
		[]health.Checker{health.CaptureChecker(mic), health.ProgressChecker(mic)},
		health.WithDetails(func() any { return a.Status() }),
	)
	mux := http.NewServeMux()
	hh.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	if addr := cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// Microphone returns the capture controller.
func (a *App) Microphone() *capture.Microphone { return a.mic }

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Config returns the configuration currently applied.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Status is the capture summary reported under "details" by /readyz.
type Status struct {
	State     string            `json:"state"`
	SessionID string            `json:"session_id,omitempty"`
	Params    string            `json:"params,omitempty"`
	Stats     capture.Stats     `json:"stats"`
	Backends  map[string]string `json:"backends,omitempty"`
	Attempts  int               `json:"open_attempts"`
	LastError string            `json:"last_error,omitempty"`
}

// Status returns a snapshot of the capture state.
func (a *App) Status() Status {
	st := Status{
		State:     a.mic.State().String(),
		SessionID: a.mic.SessionID(),
		Stats:     a.mic.Stats(),
		Backends:  a.backend.breakerStates(),
		Attempts:  a.reopener.Attempts(),
	}
	if p := a.mic.Params(); p.SampleRate > 0 {
		st.Params = p.String()
	}
	if err := a.reopener.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Run opens the microphone (retrying with backoff), serves HTTP and watches
// the config file until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.reopener.Run(ctx) })
	a.reopener.Request()

	if a.server != nil {
		g.Go(func() error {
			a.log.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, config.WithWatcherLogger(a.log))
		if err != nil {
			a.log.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error {
				<-ctx.Done()
				w.Stop()
				return nil
			})
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		a.reopener.Stop()
		return nil
	})

	return g.Wait()
}

// open is one reopen attempt: create the device, build the sink for the
// negotiated parameters if none is attached yet, then start capture.
func (a *App) open(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrShutdown
	}
	if a.mic.IsOpen() {
		return nil
	}

	ctx, span := observe.StartSpan(ctx, "capture.open",
		attribute.String("device", a.cfg.Capture.Device),
		attribute.String("backend", a.cfg.Capture.Backend),
	)
	defer func() { observe.EndSpan(span, err) }()

	if err := a.mic.Create(); err != nil && !errors.Is(err, capture.ErrAlreadyOpen) {
		return err
	}
	if a.out == nil {
		if err := a.attachSinkLocked(); err != nil {
			a.metrics.RecordOpenFailure(ctx, "sink")
			_ = a.mic.Destroy()
			return err
		}
	}
	if err := a.mic.Open(); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("session_id", a.mic.SessionID()),
		attribute.String("params", a.mic.Params().String()),
	)
	return nil
}

// attachSinkLocked builds the configured sink for the microphone's
// negotiated parameters and installs it as the block handler.
func (a *App) attachSinkLocked() error {
	sc := a.cfg.Sink
	inner, err := sink.Open(sc.Kind, sc.Path, a.mic.Params())
	if err != nil {
		return err
	}
	kind := string(sc.Kind)
	out := sink.NewAsync(inner, sc.QueueDepth, sink.WithDropHook(func() {
		a.metrics.RecordSinkDrop(context.Background(), kind, 1)
	}))

	handlers := append([]capture.Handler{out}, a.taps...)
	a.mic.SetHandler(sink.NewMulti(handlers...))
	a.out = out
	a.log.Info("sink attached", "kind", kind, "path", sc.Path)
	return nil
}

func (a *App) closeSinkLocked() error {
	if a.out == nil {
		return nil
	}
	out := a.out
	a.out = nil
	if err := out.Close(); err != nil {
		return fmt.Errorf("app: close sink: %w", err)
	}
	return nil
}

// applyConfig is the watcher callback. Capture changes close the microphone,
// reconfigure it and hand it back to the reopener. Sink-only changes swap the
// handler without interrupting capture.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Slog())
			a.log.Info("log level changed", "level", d.NewLogLevel)
		} else {
			a.log.Warn("log level change ignored; logger is not reloadable")
		}
	}
	for _, section := range d.RestartRequired {
		a.log.Warn("config change requires restart", "section", section)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.cfg = new

	if !d.CaptureChanged {
		if d.SinkChanged {
			a.swapSinkLocked()
		}
		a.mu.Unlock()
		return
	}

	a.log.Info("capture config changed; reopening microphone")
	if err := a.mic.Destroy(); err != nil {
		a.log.Warn("closing microphone for reload", "err", err)
	}
	if err := a.closeSinkLocked(); err != nil {
		a.log.Warn("closing sink for reload", "err", err)
	}
	if d.BackendChanged {
		if a.newBackend == nil {
			a.log.Warn("backend change ignored; no backend factory configured")
		} else if b, err := a.newBackend(new); err != nil {
			a.log.Error("rebuilding capture backends; keeping previous", "err", err)
		} else {
			a.backend.set(b)
		}
	}
	if err := a.mic.Reconfigure(new.Capture.Engine()); err != nil {
		a.log.Error("reconfigure microphone", "err", err)
	}
	a.observer.Relabel(captureLabels(new.Capture)...)
	a.mu.Unlock()

	a.reopener.Request()
}

// captureLabels are the attributes on every capture metric.
func captureLabels(c config.CaptureConfig) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("backend", c.Backend),
		attribute.String("device", c.Device),
	}
}

// swapSinkLocked replaces the sink of a running session. The old sink is
// closed after the new one is installed so no block is lost in between.
func (a *App) swapSinkLocked() {
	if a.out == nil {
		return
	}
	old := a.out
	a.out = nil
	if !a.mic.IsOpen() {
		if err := old.Close(); err != nil {
			a.log.Warn("closing replaced sink", "err", err)
		}
		return
	}
	if err := a.attachSinkLocked(); err != nil {
		a.log.Error("building new sink; keeping previous", "err", err)
		a.out = old
		return
	}
	if err := old.Close(); err != nil {
		a.log.Warn("closing replaced sink", "err", err)
	}
}

// Shutdown stops the reopen loop, closes the microphone (joining the capture
// goroutine before the device is released) and flushes the sink. It respects
// the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")
		a.reopener.Stop()

		done := make(chan error, 1)
		go func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.closed = true
			err := errors.Join(a.mic.Destroy(), a.closeSinkLocked())
			a.mic.SetHandler(nil)

			st := a.mic.Stats()
			a.log.Info("capture stopped",
				"sessions", st.Sessions,
				"blocks", st.Blocks,
				"delivered", humanize.Bytes(st.Bytes),
				"overruns", st.Overruns,
				"short_reads", st.ShortReads,
				"read_errors", st.ReadErrors,
				"overflows", st.Overflows,
			)
			done <- err
		}()

		select {
		case shutdownErr = <-done:
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded")
			shutdownErr = ctx.Err()
			return
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
