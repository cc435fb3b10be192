package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default retry parameters for a [Reopener].
const (
	defaultMaxRetries = 10
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// ReopenerConfig configures a [Reopener].
type ReopenerConfig struct {
	// Open performs one attempt, typically opening the microphone. Required.
	Open func(ctx context.Context) error

	// MaxRetries is the maximum number of attempts per cycle. Negative
	// retries forever. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial delay between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff caps the delay. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnOpen is called after a successful attempt. May be nil.
	OnOpen func()

	// OnGiveUp is called with the last error when a cycle exhausts its
	// retries. May be nil.
	OnGiveUp func(error)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Reopener retries an open operation with exponential backoff. It is used
// when the capture device is missing at start-up, and after a configuration
// change forces the microphone to be closed and opened again.
//
// [Reopener.Run] starts a background loop that waits for requests made with
// [Reopener.Request]; [Reopener.OpenNow] performs a blocking cycle directly.
//
// All methods are safe for concurrent use.
type Reopener struct {
	open       func(context.Context) error
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	onOpen     func()
	onGiveUp   func(error)
	log        *slog.Logger

	requests chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	attempts int
	lastErr  error
}

// NewReopener creates a [Reopener].
func NewReopener(cfg ReopenerConfig) *Reopener {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reopener{
		open:       cfg.Open,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		onOpen:     cfg.OnOpen,
		onGiveUp:   cfg.OnGiveUp,
		log:        cfg.Logger,
		requests:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Request asks the background loop to start a cycle. Requests made while
// one is pending are coalesced.
func (r *Reopener) Request() {
	select {
	case r.requests <- struct{}{}:
	default:
	}
}

// Run processes requests until ctx is cancelled or Stop is called.
func (r *Reopener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case <-r.requests:
			if err := r.OpenNow(ctx); err != nil && r.onGiveUp != nil {
				r.onGiveUp(err)
			}
		}
	}
}

// Stop makes Run return and aborts any cycle waiting on backoff. Safe to
// call more than once.
func (r *Reopener) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// LastError returns the error of the most recent failed attempt, or nil if
// the most recent attempt succeeded.
func (r *Reopener) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Attempts returns the total number of attempts made.
func (r *Reopener) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// OpenNow runs one retry cycle on the calling goroutine and returns nil on
// the first successful attempt.
func (r *Reopener) OpenNow(ctx context.Context) error {
	current := r.backoff
	var err error

	for attempt := 1; r.maxRetries < 0 || attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return fmt.Errorf("resilience: reopener stopped: %w", err)
		default:
		}

		err = r.open(ctx)

		r.mu.Lock()
		r.attempts++
		r.lastErr = err
		r.mu.Unlock()

		if err == nil {
			if attempt > 1 {
				r.log.Info("device opened after retries", "attempt", attempt)
			}
			if r.onOpen != nil {
				r.onOpen()
			}
			return nil
		}

		r.log.Warn("open attempt failed",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", current,
			"err", err,
		)

		t := time.NewTimer(current)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-r.done:
			t.Stop()
			return fmt.Errorf("resilience: reopener stopped: %w", err)
		case <-t.C:
		}

		current = min(current*2, r.maxBackoff)
	}

	r.log.Error("giving up opening device", "max_retries", r.maxRetries, "err", err)
	return fmt.Errorf("resilience: open failed after %d attempts: %w", r.maxRetries, err)
}
