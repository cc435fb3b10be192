//go:build linux

// Package alsa implements [audio.Backend] on the Linux kernel ALSA PCM
// interface using the pure-Go github.com/yobert/alsa bindings.
//
// Device names follow the ALSA convention: "default" (or "") selects the
// first capture-capable PCM, "hw:C" and "hw:C,D" address card C device D,
// and any other value is matched against the device and card titles.
package alsa

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"syscall"

	alsalib "github.com/yobert/alsa"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// ErrNoDevice is returned by Open when no capture PCM matches the name.
var ErrNoDevice = errors.New("alsa: no matching capture device")

// Backend opens ALSA capture devices.
type Backend struct {
	log *slog.Logger
}

var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Lister  = (*Backend)(nil)
)

// New returns an ALSA backend. A nil logger uses [slog.Default].
func New(log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{log: log.With("backend", "alsa")}
}

// Open implements [audio.Backend].
func (b *Backend) Open(name string) (audio.Device, error) {
	cards, err := alsalib.OpenCards()
	if err != nil {
		return nil, fmt.Errorf("alsa: enumerate cards: %w", err)
	}

	dev, err := findDevice(cards, name)
	if err != nil {
		alsalib.CloseCards(cards)
		return nil, err
	}
	if err := dev.Open(); err != nil {
		alsalib.CloseCards(cards)
		return nil, fmt.Errorf("alsa: open %s: %w", dev.Title, err)
	}

	b.log.Debug("opened capture pcm", "name", name, "title", dev.Title, "path", dev.Path)
	return &Device{cards: cards, dev: dev}, nil
}

// Devices implements [audio.Lister].
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	cards, err := alsalib.OpenCards()
	if err != nil {
		return nil, fmt.Errorf("alsa: enumerate cards: %w", err)
	}
	defer alsalib.CloseCards(cards)

	var out []audio.DeviceInfo
	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			return nil, fmt.Errorf("alsa: list devices of %s: %w", card.Title, err)
		}
		for _, d := range devices {
			if d.Type != alsalib.PCM || !d.Record {
				continue
			}
			out = append(out, audio.DeviceInfo{
				Name:        fmt.Sprintf("hw:%d,%d", card.Number, d.Number),
				Description: fmt.Sprintf("%s: %s", card.Title, d.Title),
				Default:     len(out) == 0,
			})
		}
	}
	return out, nil
}

// findDevice resolves name to a capture PCM.
func findDevice(cards []*alsalib.Card, name string) (*alsalib.Device, error) {
	wantCard, wantDev, byNumber := parseHW(name)

	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			return nil, fmt.Errorf("alsa: list devices of %s: %w", card.Title, err)
		}
		for _, d := range devices {
			if d.Type != alsalib.PCM || !d.Record {
				continue
			}
			switch {
			case name == "" || name == "default":
				return d, nil
			case byNumber:
				if card.Number == wantCard && d.Number == wantDev {
					return d, nil
				}
			case d.Title == name || d.Path == name || strings.Contains(card.Title, name):
				return d, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
}

// parseHW parses "hw:C" or "hw:C,D".
func parseHW(name string) (card, dev int, ok bool) {
	rest, found := strings.CutPrefix(name, "hw:")
	if !found {
		return 0, 0, false
	}
	c, d, _ := strings.Cut(rest, ",")
	card, err := strconv.Atoi(c)
	if err != nil {
		return 0, 0, false
	}
	if d != "" {
		if dev, err = strconv.Atoi(d); err != nil {
			return 0, 0, false
		}
	}
	return card, dev, true
}

// Device is an opened ALSA capture PCM.
type Device struct {
	cards []*alsalib.Card
	dev   *alsalib.Device
	hw    audio.HWParams
}

var _ audio.Device = (*Device)(nil)

// SetAccess implements [audio.Device]. The kernel read path is always
// interleaved.
func (d *Device) SetAccess(a audio.Access) error {
	return audio.CheckAccess(a)
}

// SetFormat implements [audio.Device].
func (d *Device) SetFormat(f audio.SampleFormat) error {
	if err := audio.CheckFormat(f); err != nil {
		return err
	}
	if _, err := d.dev.NegotiateFormat(alsalib.S16_LE); err != nil {
		return fmt.Errorf("alsa: negotiate format: %w", err)
	}
	return nil
}

// SetChannels implements [audio.Device].
func (d *Device) SetChannels(n int) error {
	got, err := d.dev.NegotiateChannels(n)
	if err != nil {
		return fmt.Errorf("alsa: negotiate channels: %w", err)
	}
	if got != n {
		return fmt.Errorf("%w: requested %d channels, device offers %d", audio.ErrUnsupported, n, got)
	}
	d.hw.Channels = n
	return nil
}

// SetRateNear implements [audio.Device]. The exact rate is tried first,
// followed by the common rates nearest to it.
func (d *Device) SetRateNear(hz int) (int, error) {
	var errs []error
	for _, r := range audio.RateCandidates(hz) {
		got, err := d.dev.NegotiateRate(r)
		if err == nil {
			d.hw.Rate = got
			return got, nil
		}
		errs = append(errs, err)
	}
	return 0, fmt.Errorf("alsa: negotiate rate near %d: %w", hz, errors.Join(errs...))
}

// SetPeriodSizeNear implements [audio.Device].
func (d *Device) SetPeriodSizeNear(frames int) (int, error) {
	var errs []error
	for _, f := range audio.PeriodCandidates(frames) {
		got, err := d.dev.NegotiatePeriodSize(f)
		if err == nil {
			d.hw.PeriodFrames = got
			return got, nil
		}
		errs = append(errs, err)
	}
	return 0, fmt.Errorf("alsa: negotiate period size near %d: %w", frames, errors.Join(errs...))
}

// Apply implements [audio.Device]. The ring buffer is sized to four periods
// before the stream is prepared.
func (d *Device) Apply() error {
	if d.hw.PeriodFrames > 0 {
		if _, err := d.dev.NegotiateBufferSize(d.hw.PeriodFrames*4, d.hw.PeriodFrames*8); err != nil {
			return fmt.Errorf("alsa: negotiate buffer size: %w", err)
		}
	}
	if err := d.dev.Prepare(); err != nil {
		return fmt.Errorf("alsa: prepare: %w", err)
	}
	return nil
}

// Read implements [audio.Device]. The kernel fills the whole buffer or
// fails; EPIPE is reported as [audio.ErrOverrun].
func (d *Device) Read(buf []byte) (int, error) {
	if err := d.dev.Read(buf); err != nil {
		if errors.Is(err, syscall.EPIPE) {
			return 0, fmt.Errorf("alsa: %w: %w", audio.ErrOverrun, err)
		}
		return 0, fmt.Errorf("alsa: read: %w", err)
	}
	fb := d.hw.Params().FrameBytes()
	if fb == 0 {
		return 0, fmt.Errorf("alsa: read before channels were negotiated")
	}
	return len(buf) / fb, nil
}

// Prepare implements [audio.Device].
func (d *Device) Prepare() error {
	if err := d.dev.Prepare(); err != nil {
		return fmt.Errorf("alsa: prepare: %w", err)
	}
	return nil
}

// Drain implements [audio.Device]. Capture streams have nothing to flush;
// closing the PCM stops it.
func (d *Device) Drain() error { return nil }

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.dev.Close()
	alsalib.CloseCards(d.cards)
	d.cards = nil
	return nil
}
