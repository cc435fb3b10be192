package resilience

import (
	"github.com/MrWong99/micpipe/pkg/audio"
)

// BackendFallback implements [audio.Backend] with ordered failover across
// several capture backends. Each backend has its own circuit breaker; a
// backend whose Open keeps failing is skipped until its breaker half-opens.
//
// Only Open participates in failover. Once a device is returned, read faults
// are handled by the capture engine.
type BackendFallback struct {
	group *FallbackGroup[audio.Backend]
}

var _ audio.Backend = (*BackendFallback)(nil)

// NewBackendFallback creates a [BackendFallback] with primary as the preferred backend.
func NewBackendFallback(primary audio.Backend, primaryName string, cfg FallbackConfig) *BackendFallback {
	return &BackendFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *BackendFallback) AddFallback(name string, b audio.Backend) {
	f.group.AddFallback(name, b)
}

// Open opens name on the first healthy backend.
func (f *BackendFallback) Open(name string) (audio.Device, error) {
	return ExecuteWithResult(f.group, func(b audio.Backend) (audio.Device, error) {
		return b.Open(name)
	})
}

// Devices lists devices of the first backend that can enumerate them.
func (f *BackendFallback) Devices() ([]audio.DeviceInfo, error) {
	return ExecuteWithResult(f.group, func(b audio.Backend) ([]audio.DeviceInfo, error) {
		l, ok := b.(audio.Lister)
		if !ok {
			return nil, audio.ErrUnsupported
		}
		return l.Devices()
	})
}

// Names returns the backend names in failover order.
func (f *BackendFallback) Names() []string { return f.group.Names() }

// States returns the breaker state of every backend.
func (f *BackendFallback) States() map[string]BreakerState { return f.group.States() }
