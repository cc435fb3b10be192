//go:build !linux

package alsa

import (
	"errors"
	"log/slog"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// ErrNoDevice is returned by Open when no capture PCM matches the name.
var ErrNoDevice = errors.New("alsa: no matching capture device")

// errUnsupportedOS is returned on platforms without ALSA.
var errUnsupportedOS = errors.New("alsa: only available on linux")

// Backend is unavailable outside Linux; Open always fails.
type Backend struct{}

// New returns a backend whose Open always fails.
func New(*slog.Logger) *Backend { return &Backend{} }

// Open implements [audio.Backend].
func (b *Backend) Open(string) (audio.Device, error) { return nil, errUnsupportedOS }

// Devices implements [audio.Lister].
func (b *Backend) Devices() ([]audio.DeviceInfo, error) { return nil, errUnsupportedOS }
