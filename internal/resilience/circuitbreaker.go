// Package resilience provides the recovery primitives micpipe wraps around
// device access: a circuit breaker per capture backend, ordered backend
// failover, and a reopener that retries opening the microphone with
// exponential backoff.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open). [FallbackGroup] gives every entry its own
// breaker so a backend whose devices keep failing to open is skipped until
// its reset timeout elapses.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// BreakerState represents the current operating mode of a [CircuitBreaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through; if they
	// succeed the breaker closes, otherwise it re-opens.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks, typically the
	// backend name.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called with the breaker lock released after
	// every transition.
	OnStateChange func(name string, from, to BreakerState)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(string, BreakerState, BreakerState)
	log           *slog.Logger
	now           func() time.Time

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		log:           cfg.Logger,
		now:           time.Now,
		state:         BreakerClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	from := cb.state
	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = BreakerHalfOpen
		cb.probes = 0
		cb.probeSuccesses = 0
	}
	if cb.state == BreakerHalfOpen && cb.probes >= cb.halfOpenMax {
		cb.mu.Unlock()
		cb.notify(from, BreakerHalfOpen)
		return ErrCircuitOpen
	}
	probing := cb.state == BreakerHalfOpen
	if probing {
		cb.probes++
	}
	mid := cb.state
	cb.mu.Unlock()
	cb.notify(from, mid)

	err := fn()

	cb.mu.Lock()
	before := cb.state
	if err != nil {
		cb.recordFailure(probing)
	} else {
		cb.recordSuccess(probing)
	}
	after := cb.state
	cb.mu.Unlock()
	cb.notify(before, after)
	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probing bool) {
	if probing {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
		cb.consecutiveFail = cb.maxFailures
		return
	}
	cb.consecutiveFail++
	if cb.state == BreakerClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probing bool) {
	if probing {
		cb.probeSuccesses++
		if cb.probeSuccesses < cb.halfOpenMax {
			return
		}
	}
	cb.state = BreakerClosed
	cb.consecutiveFail = 0
	cb.probes = 0
	cb.probeSuccesses = 0
}

func (cb *CircuitBreaker) notify(from, to BreakerState) {
	if from == to {
		return
	}
	switch to {
	case BreakerOpen:
		cb.log.Warn("circuit breaker opened", "name", cb.name, "from", from, "reset_timeout", cb.resetTimeout)
	default:
		cb.log.Info("circuit breaker state changed", "name", cb.name, "from", from, "to", to)
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [BreakerHalfOpen]; the transition itself happens on the
// next Execute.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return BreakerHalfOpen
	}
	return cb.state
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset forces the breaker back to [BreakerClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = BreakerClosed
	cb.consecutiveFail = 0
	cb.probes = 0
	cb.probeSuccesses = 0
	cb.mu.Unlock()
	cb.notify(from, BreakerClosed)
}
