// Package malgo implements [audio.Backend] on miniaudio through
// github.com/gen2brain/malgo. miniaudio delivers captured frames on its own
// callback thread; a [periodq.Queue] turns them back into blocking
// period-sized reads.
package malgo

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/periodq"
)

// ErrNoDevice is returned by Open when no capture device matches the name.
var ErrNoDevice = errors.New("malgo: no matching capture device")

// Backend opens miniaudio capture devices. Every opened device owns its own
// miniaudio context.
type Backend struct {
	log         *slog.Logger
	queueDepth  int
	readTimeout time.Duration
}

var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Lister  = (*Backend)(nil)
)

// Option configures a [Backend].
type Option func(*Backend)

// WithQueueDepth sets how many periods are buffered between the miniaudio
// callback and the reader before an overrun is reported.
func WithQueueDepth(n int) Option {
	return func(b *Backend) { b.queueDepth = n }
}

// WithReadTimeout bounds each Read so a stalled device cannot block the
// reader forever.
func WithReadTimeout(d time.Duration) Option {
	return func(b *Backend) { b.readTimeout = d }
}

// New returns a miniaudio backend. A nil logger uses [slog.Default].
func New(log *slog.Logger, opts ...Option) *Backend {
	if log == nil {
		log = slog.Default()
	}
	b := &Backend{
		log:         log.With("backend", "malgo"),
		queueDepth:  periodq.DefaultDepth,
		readTimeout: time.Second,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Open implements [audio.Backend].
func (b *Backend) Open(name string) (audio.Device, error) {
	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(msg string) {
		b.log.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	d := &Device{
		ctx:         ctx,
		queueDepth:  b.queueDepth,
		readTimeout: b.readTimeout,
	}
	if name != "" && name != "default" {
		infos, err := ctx.Devices(ma.Capture)
		if err != nil {
			freeContext(ctx)
			return nil, fmt.Errorf("malgo: list capture devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == name || strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
				d.id = info.ID
				found = true
				break
			}
		}
		if !found {
			freeContext(ctx)
			return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
		}
	}
	return d, nil
}

// Devices implements [audio.Lister].
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(ma.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: list capture devices: %w", err)
	}
	out := make([]audio.DeviceInfo, 0, len(infos))
	for i, info := range infos {
		out = append(out, audio.DeviceInfo{
			Name:        info.Name(),
			Description: info.Name(),
			Default:     i == 0,
		})
	}
	return out, nil
}

func freeContext(ctx *ma.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// Device is a miniaudio capture device. miniaudio converts to the
// requested rate and channel count itself, so every request is granted.
type Device struct {
	ctx         *ma.AllocatedContext
	id          ma.DeviceID
	hw          audio.HWParams
	queueDepth  int
	readTimeout time.Duration

	dev *ma.Device
	q   *periodq.Queue
}

var _ audio.Device = (*Device)(nil)

// SetAccess implements [audio.Device].
func (d *Device) SetAccess(a audio.Access) error { return audio.CheckAccess(a) }

// SetFormat implements [audio.Device].
func (d *Device) SetFormat(f audio.SampleFormat) error { return audio.CheckFormat(f) }

// SetChannels implements [audio.Device].
func (d *Device) SetChannels(n int) error {
	if err := audio.CheckChannels(n, 2); err != nil {
		return fmt.Errorf("malgo: %w", err)
	}
	d.hw.Channels = n
	return nil
}

// SetRateNear implements [audio.Device].
func (d *Device) SetRateNear(hz int) (int, error) {
	d.hw.Rate = hz
	return hz, nil
}

// SetPeriodSizeNear implements [audio.Device].
func (d *Device) SetPeriodSizeNear(frames int) (int, error) {
	d.hw.PeriodFrames = frames
	return frames, nil
}

// Apply implements [audio.Device]. It initialises and starts the device.
func (d *Device) Apply() error {
	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS16
	cfg.Capture.Channels = uint32(d.hw.Channels)
	cfg.SampleRate = uint32(d.hw.Rate)
	cfg.PeriodSizeInFrames = uint32(d.hw.PeriodFrames)
	cfg.Alsa.NoMMap = 1
	if d.id != (ma.DeviceID{}) {
		cfg.Capture.DeviceID = d.id.Pointer()
	}

	q := periodq.New(d.hw.Params().PeriodBytes(), d.queueDepth, d.readTimeout)
	cb := ma.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			_, _ = q.Write(in)
		},
	}

	dev, err := ma.InitDevice(d.ctx.Context, cfg, cb)
	if err != nil {
		return fmt.Errorf("malgo: init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("malgo: start device: %w", err)
	}
	d.dev = dev
	d.q = q
	return nil
}

// Read implements [audio.Device].
func (d *Device) Read(buf []byte) (int, error) {
	if d.q == nil {
		return 0, errors.New("malgo: read before apply")
	}
	n, err := d.q.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("malgo: %w", err)
	}
	return n / d.hw.Params().FrameBytes(), nil
}

// Prepare implements [audio.Device]. It discards queued data.
func (d *Device) Prepare() error {
	if d.q != nil {
		d.q.Reset()
	}
	return nil
}

// Drain implements [audio.Device]. It stops the device.
func (d *Device) Drain() error {
	if d.dev == nil {
		return nil
	}
	if err := d.dev.Stop(); err != nil {
		return fmt.Errorf("malgo: stop device: %w", err)
	}
	return nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	if d.q != nil {
		d.q.Close()
	}
	if d.dev != nil {
		d.dev.Uninit()
		d.dev = nil
	}
	if d.ctx != nil {
		freeContext(d.ctx)
		d.ctx = nil
	}
	return nil
}
