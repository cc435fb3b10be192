package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/micpipe/internal/config"
	"github.com/MrWong99/micpipe/internal/resilience"
	"github.com/MrWong99/micpipe/pkg/audio"
)

// BackendFactory builds the capture backend chain for a configuration.
type BackendFactory func(cfg *config.Config) (audio.Backend, error)

// RegistryBackends returns a [BackendFactory] that instantiates
// capture.backend and every capture.fallbacks entry from reg and chains them
// behind a [resilience.BackendFallback]. Backends whose factory fails (for
// example because no sound server is running) are skipped with a warning.
func RegistryBackends(reg *config.Registry, log *slog.Logger) BackendFactory {
	if log == nil {
		log = slog.Default()
	}
	return func(cfg *config.Config) (audio.Backend, error) {
		fbCfg := resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  cfg.Recovery.BreakerFailures,
				ResetTimeout: cfg.Recovery.BreakerReset,
				Logger:       log,
			},
		}

		var (
			chain *resilience.BackendFallback
			errs  []error
		)
		for _, name := range cfg.Capture.Backends() {
			b, err := reg.CreateBackend(name, cfg.Capture)
			if err != nil {
				log.Warn("capture backend unavailable", "backend", name, "err", err)
				errs = append(errs, err)
				continue
			}
			if chain == nil {
				chain = resilience.NewBackendFallback(b, name, fbCfg)
			} else {
				chain.AddFallback(name, b)
			}
		}
		if chain == nil {
			return nil, fmt.Errorf("app: no capture backend available: %w", errors.Join(errs...))
		}
		log.Info("capture backends ready", "order", chain.Names())
		return chain, nil
	}
}

// backendRef lets the backend chain be replaced on config reload while the
// microphone keeps a single [audio.Backend].
type backendRef struct {
	mu sync.RWMutex
	b  audio.Backend
}

var _ audio.Backend = (*backendRef)(nil)

func (r *backendRef) get() audio.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.b
}

func (r *backendRef) set(b audio.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.b = b
}

// Open implements [audio.Backend].
func (r *backendRef) Open(name string) (audio.Device, error) {
	return r.get().Open(name)
}

// breakerStates reports the per-backend breaker states when the current
// backend is a fallback chain.
func (r *backendRef) breakerStates() map[string]string {
	fb, ok := r.get().(*resilience.BackendFallback)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for name, s := range fb.States() {
		out[name] = s.String()
	}
	return out
}
