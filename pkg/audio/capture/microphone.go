// Package capture implements the micpipe capture engine: a lifecycle
// controller that owns one [audio.Device], a dedicated goroutine that reads
// fixed-size periods from it, and an accumulator that groups periods into
// delivery blocks for a [Handler].
//
// Data flow:
//
//	Open → Create (negotiate) → start capture goroutine
//	capture goroutine: wait → read period → classify → accumulate → deliver
//	Close → stop + join capture goroutine → drain + close device
//
// The device is only ever read by the capture goroutine, and it is drained
// and closed by the controlling goroutine strictly after that goroutine has
// returned.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// handlerRef boxes a Handler so it can be swapped atomically.
type handlerRef struct {
	h Handler
}

// Microphone is the capture engine for one device.
//
// Open, Close, Destroy, Create and Reconfigure are serialised internally;
// State, Params, Stats, SessionID and SetHandler may be called from any
// goroutine at any time.
type Microphone struct {
	backend  audio.Backend
	log      *slog.Logger
	observer Observer
	handler  atomic.Pointer[handlerRef]
	state    atomic.Int32
	stats    counters

	mu        sync.Mutex
	cfg       Config
	dev       audio.Device
	params    audio.Params
	w         *worker
	sessionID atomic.Pointer[string]
}

// Option configures a [Microphone] during construction.
type Option func(*Microphone)

// WithLogger sets the logger used for lifecycle and fault messages. The
// default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(m *Microphone) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver installs a telemetry observer.
func WithObserver(o Observer) Option {
	return func(m *Microphone) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithHandler registers the initial block handler.
func WithHandler(h Handler) Option {
	return func(m *Microphone) { m.SetHandler(h) }
}

// New returns a closed Microphone that will open devices through backend.
// Zero-valued config fields take their defaults before validation.
func New(backend audio.Backend, cfg Config, opts ...Option) (*Microphone, error) {
	if backend == nil {
		return nil, errors.New("capture: backend is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capture: invalid config: %w", err)
	}
	m := &Microphone{
		backend:  backend,
		log:      slog.Default(),
		observer: NopObserver{},
		cfg:      cfg,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "capture")
	return m, nil
}

// SetHandler registers h as the block handler, replacing any previous one.
// A nil handler unregisters; periods are then read and discarded.
func (m *Microphone) SetHandler(h Handler) {
	if h == nil {
		m.handler.Store(nil)
		return
	}
	m.handler.Store(&handlerRef{h: h})
}

// currentHandler returns the registered handler or nil.
func (m *Microphone) currentHandler() Handler {
	if ref := m.handler.Load(); ref != nil {
		return ref.h
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Microphone) State() State {
	return State(m.state.Load())
}

func (m *Microphone) setState(s State) {
	m.state.Store(int32(s))
}

// IsOpen reports whether a capture session is running.
func (m *Microphone) IsOpen() bool {
	return m.State() == StateOpen
}

// Stats returns a snapshot of the capture counters.
func (m *Microphone) Stats() Stats {
	return m.stats.snapshot()
}

// SessionID returns the identifier of the current or most recent session,
// or "" if no session has been opened yet.
func (m *Microphone) SessionID() string {
	if p := m.sessionID.Load(); p != nil {
		return *p
	}
	return ""
}

// Config returns the capture configuration.
func (m *Microphone) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Params returns the parameters negotiated by the last successful Create.
// It returns the zero value if no device handle is held.
func (m *Microphone) Params() audio.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return audio.Params{}
	}
	return m.params
}

// Reconfigure replaces the capture configuration. New parameters only take
// effect through a full close/reopen cycle, so Reconfigure fails with
// [ErrBusy] while a device handle is held.
func (m *Microphone) Reconfigure(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("capture: invalid config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil || m.w != nil {
		return ErrBusy
	}
	m.cfg = cfg
	return nil
}

// Create opens the device and negotiates the hardware parameters without
// starting capture. It fails with [ErrAlreadyOpen] if a handle is already
// held; the existing handle is left untouched.
func (m *Microphone) Create() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		return ErrAlreadyOpen
	}
	return m.createLocked()
}

// Open starts a capture session, creating the device first if no handle is
// held. It is a no-op if a session is already running. On any failure the
// microphone is fully closed before the error is returned, so no goroutine
// or device handle survives a failed Open.
func (m *Microphone) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == StateOpen {
		return nil
	}
	m.setState(StateOpening)

	if m.dev == nil {
		if err := m.createLocked(); err != nil {
			if rerr := m.releaseLocked("open failed"); rerr != nil {
				m.log.Warn("release after failed open", "err", rerr)
			}
			return err
		}
	}

	sess := m.newSession()
	id := uuid.NewString()
	m.sessionID.Store(&id)
	sess.log = m.log.With("session_id", id)

	m.w = startWorker(func(w *worker) { m.run(w, sess) })
	m.w.Signal()

	m.setState(StateOpen)
	m.stats.sessions.Add(1)
	m.observer.SessionOpened(m.params)

	m.log.Info("capture session opened",
		"session_id", id,
		"device", m.cfg.Device,
		"params", m.params.String(),
		"block_bytes", m.cfg.BlockBytes,
		"max_blocks", m.cfg.MaxBlocks,
	)
	return nil
}

// Close stops a running capture session: it signals the capture goroutine,
// waits for it to exit, and then drains and closes the device. It is a
// no-op returning nil if no session is running. The microphone is always
// Closed afterwards, even if draining or closing the device reported an
// error.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != StateOpen {
		return nil
	}
	return m.releaseLocked("close")
}

// Destroy unconditionally stops capture and releases any device handle,
// including one held after a bare Create. It blocks until the capture
// goroutine has fully terminated before the device is drained. The
// microphone can be opened again afterwards.
func (m *Microphone) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked("destroy")
}

// createLocked opens and negotiates the device. On failure the partially
// opened device is closed and an [*OpenError] is returned. m.mu must be held.
func (m *Microphone) createLocked() error {
	cfg := m.cfg

	dev, err := m.backend.Open(cfg.Device)
	if err != nil {
		return m.openFailed(StepOpen, err, nil)
	}
	if err := dev.SetAccess(audio.AccessInterleaved); err != nil {
		return m.openFailed(StepAccess, err, dev)
	}
	if err := dev.SetFormat(audio.FormatS16LE); err != nil {
		return m.openFailed(StepFormat, err, dev)
	}
	if err := dev.SetChannels(cfg.Channels); err != nil {
		return m.openFailed(StepChannels, err, dev)
	}
	rate, err := dev.SetRateNear(cfg.SampleRate)
	if err == nil && rate <= 0 {
		err = fmt.Errorf("device granted invalid rate %d", rate)
	}
	if err != nil {
		return m.openFailed(StepRate, err, dev)
	}
	frames, err := dev.SetPeriodSizeNear(cfg.PeriodFrames)
	if err == nil && frames <= 0 {
		err = fmt.Errorf("device granted invalid period size %d", frames)
	}
	if err != nil {
		return m.openFailed(StepPeriod, err, dev)
	}
	if err := dev.Apply(); err != nil {
		return m.openFailed(StepApply, err, dev)
	}

	m.dev = dev
	m.params = audio.Params{
		SampleRate:   rate,
		Channels:     cfg.Channels,
		PeriodFrames: frames,
		Format:       audio.FormatS16LE,
	}

	if rate != cfg.SampleRate || frames != cfg.PeriodFrames {
		m.log.Info("device adjusted capture parameters",
			"device", cfg.Device,
			"requested_rate", cfg.SampleRate,
			"rate", rate,
			"requested_period_frames", cfg.PeriodFrames,
			"period_frames", frames,
		)
	}
	if periodsPerBlock(m.params.PeriodBytes(), cfg.BlockBytes, cfg.MaxBlocks) == 0 {
		m.log.Warn("delivery threshold is not reached within max_blocks periods; overflow policy will shape blocks",
			"period_bytes", m.params.PeriodBytes(),
			"block_bytes", cfg.BlockBytes,
			"max_blocks", cfg.MaxBlocks,
			"overflow", cfg.Overflow,
		)
	}
	return nil
}

// openFailed records a creation failure, closes dev if non-nil, and returns
// the matching OpenError.
func (m *Microphone) openFailed(step string, err error, dev audio.Device) error {
	if dev != nil {
		if cerr := dev.Close(); cerr != nil {
			m.log.Warn("close after failed negotiation", "step", step, "err", cerr)
		}
	}
	m.observer.OpenFailed(step)
	m.log.Error("cannot open capture device", "device", m.cfg.Device, "step", step, "err", err)
	return &OpenError{Device: m.cfg.Device, Step: step, Err: err}
}

// releaseLocked stops and joins the capture goroutine if one is running and
// then drains and closes the device if one is held. The join always
// completes before the device is touched. m.mu must be held.
func (m *Microphone) releaseLocked(reason string) error {
	running := m.w != nil
	if running {
		m.setState(StateClosing)
		m.w.Stop()
		m.w.Join()
		m.w = nil
	}

	var errs []error
	if m.dev != nil {
		if err := m.dev.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("capture: drain: %w", err))
		}
		if err := m.dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("capture: close device: %w", err))
		}
		m.dev = nil
	}
	m.setState(StateClosed)

	if running {
		m.observer.SessionClosed()
		st := m.stats.snapshot()
		m.log.Info("capture session closed",
			"session_id", m.SessionID(),
			"reason", reason,
			"periods", st.Periods,
			"faults", st.Faults(),
			"blocks", st.Blocks,
		)
	}
	return errors.Join(errs...)
}
