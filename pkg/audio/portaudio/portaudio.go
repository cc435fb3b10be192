// Package portaudio implements [audio.Backend] on top of PortAudio via
// github.com/gordonklaus/portaudio. It works on every platform PortAudio
// supports and requires cgo.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// ErrNoDevice is returned by Open when no input device matches the name.
var ErrNoDevice = errors.New("portaudio: no matching input device")

// Backend opens PortAudio input streams. Each opened device holds one
// PortAudio initialisation reference that is released on Close.
type Backend struct {
	log *slog.Logger
}

var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Lister  = (*Backend)(nil)
)

// New returns a PortAudio backend. A nil logger uses [slog.Default].
func New(log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{log: log.With("backend", "portaudio")}
}

// Open implements [audio.Backend].
func (b *Backend) Open(name string) (audio.Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	info, err := findInput(name)
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}
	b.log.Debug("selected input device", "name", info.Name, "max_channels", info.MaxInputChannels)
	return &Device{info: info}, nil
}

// Devices implements [audio.Lister].
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer func() { _ = pa.Terminate() }()

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []audio.DeviceInfo
	for _, info := range infos {
		if info.MaxInputChannels == 0 {
			continue
		}
		desc := info.Name
		if info.HostApi != nil {
			desc = fmt.Sprintf("%s (%s)", info.Name, info.HostApi.Name)
		}
		out = append(out, audio.DeviceInfo{
			Name:        info.Name,
			Description: desc,
			Default:     def != nil && def.Name == info.Name,
		})
	}
	return out, nil
}

func findInput(name string) (*pa.DeviceInfo, error) {
	if name == "" || name == "default" {
		info, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input: %w", err)
		}
		return info, nil
	}
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, info := range infos {
		if info.MaxInputChannels > 0 && info.Name == name {
			return info, nil
		}
	}
	for _, info := range infos {
		if info.MaxInputChannels > 0 && strings.Contains(strings.ToLower(info.Name), strings.ToLower(name)) {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
}

// Device is a PortAudio blocking input stream. The stream itself is only
// opened by Apply, once every parameter is known.
type Device struct {
	info    *pa.DeviceInfo
	hw      audio.HWParams
	samples []int16
	stream  *pa.Stream
	running bool
}

var _ audio.Device = (*Device)(nil)

// SetAccess implements [audio.Device].
func (d *Device) SetAccess(a audio.Access) error { return audio.CheckAccess(a) }

// SetFormat implements [audio.Device]. Streams are opened with an int16
// buffer, which PortAudio maps to paInt16.
func (d *Device) SetFormat(f audio.SampleFormat) error { return audio.CheckFormat(f) }

// SetChannels implements [audio.Device].
func (d *Device) SetChannels(n int) error {
	if err := audio.CheckChannels(n, d.info.MaxInputChannels); err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}
	d.hw.Channels = n
	return nil
}

// SetRateNear implements [audio.Device]. Candidates are probed with
// IsFormatSupported.
func (d *Device) SetRateNear(hz int) (int, error) {
	var errs []error
	for _, r := range audio.RateCandidates(hz) {
		p := d.params(r, 0)
		if err := pa.IsFormatSupported(p, make([]int16, max(d.hw.Channels, 1))); err != nil {
			errs = append(errs, fmt.Errorf("%d Hz: %w", r, err))
			continue
		}
		d.hw.Rate = r
		return r, nil
	}
	return 0, fmt.Errorf("portaudio: no supported rate near %d: %w", hz, errors.Join(errs...))
}

// SetPeriodSizeNear implements [audio.Device]. PortAudio adapts any buffer
// size, so the request is granted unchanged.
func (d *Device) SetPeriodSizeNear(frames int) (int, error) {
	d.hw.PeriodFrames = frames
	return frames, nil
}

func (d *Device) params(rate, frames int) pa.StreamParameters {
	p := pa.LowLatencyParameters(d.info, nil)
	p.Input.Channels = max(d.hw.Channels, 1)
	p.Output.Device = nil
	p.Output.Channels = 0
	p.SampleRate = float64(rate)
	p.FramesPerBuffer = frames
	return p
}

// Apply implements [audio.Device]. It opens and starts the stream.
func (d *Device) Apply() error {
	d.samples = make([]int16, d.hw.PeriodFrames*d.hw.Channels)
	stream, err := pa.OpenStream(d.params(d.hw.Rate, d.hw.PeriodFrames), d.samples)
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	d.stream = stream
	d.running = true
	return nil
}

// Read implements [audio.Device]. PortAudio reports buffer overflows as
// paInputOverflowed, which is surfaced as [audio.ErrOverrun].
func (d *Device) Read(buf []byte) (int, error) {
	if d.stream == nil {
		return 0, errors.New("portaudio: read before apply")
	}
	if err := d.stream.Read(); err != nil {
		if errors.Is(err, pa.InputOverflowed) {
			return 0, fmt.Errorf("portaudio: %w: %w", audio.ErrOverrun, err)
		}
		return 0, fmt.Errorf("portaudio: read: %w", err)
	}
	n := audio.PutS16LE(buf, d.samples)
	return n / d.hw.Channels, nil
}

// Prepare implements [audio.Device]. A blocking PortAudio stream recovers
// from an overflow on its own, so the stream is left running.
func (d *Device) Prepare() error { return nil }

// Drain implements [audio.Device]. It stops the stream.
func (d *Device) Drain() error {
	if d.stream == nil || !d.running {
		return nil
	}
	d.running = false
	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop stream: %w", err)
	}
	return nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	var errs []error
	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		d.stream = nil
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}
