// Package pulse implements [audio.Backend] as a native PulseAudio client
// using the pure-Go github.com/jfreymuth/pulse protocol implementation. It
// also works against PipeWire's PulseAudio server.
package pulse

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	pulselib "github.com/jfreymuth/pulse"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/periodq"
)

// Backend opens PulseAudio record streams. Every opened device holds its
// own client connection.
type Backend struct {
	log         *slog.Logger
	appName     string
	queueDepth  int
	readTimeout time.Duration
}

var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Lister  = (*Backend)(nil)
)

// Option configures a [Backend].
type Option func(*Backend)

// WithApplicationName sets the client name shown by the sound server.
func WithApplicationName(name string) Option {
	return func(b *Backend) { b.appName = name }
}

// WithQueueDepth sets how many periods are buffered between the stream and
// the reader before an overrun is reported.
func WithQueueDepth(n int) Option {
	return func(b *Backend) { b.queueDepth = n }
}

// WithReadTimeout bounds each Read.
func WithReadTimeout(d time.Duration) Option {
	return func(b *Backend) { b.readTimeout = d }
}

// New returns a PulseAudio backend. A nil logger uses [slog.Default].
func New(log *slog.Logger, opts ...Option) *Backend {
	if log == nil {
		log = slog.Default()
	}
	b := &Backend{
		log:         log.With("backend", "pulse"),
		appName:     "micpipe",
		queueDepth:  periodq.DefaultDepth,
		readTimeout: time.Second,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) connect() (*pulselib.Client, error) {
	c, err := pulselib.NewClient(pulselib.ClientApplicationName(b.appName))
	if err != nil {
		return nil, fmt.Errorf("pulse: connect: %w", err)
	}
	return c, nil
}

// Open implements [audio.Backend].
func (b *Backend) Open(name string) (audio.Device, error) {
	c, err := b.connect()
	if err != nil {
		return nil, err
	}

	var src *pulselib.Source
	if name == "" || name == "default" {
		src, err = c.DefaultSource()
	} else {
		src, err = c.SourceByID(name)
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pulse: source %q: %w", name, err)
	}

	b.log.Debug("selected source", "id", src.ID(), "name", src.Name())
	return &Device{
		client:      c,
		source:      src,
		queueDepth:  b.queueDepth,
		readTimeout: b.readTimeout,
	}, nil
}

// Devices implements [audio.Lister].
func (b *Backend) Devices() ([]audio.DeviceInfo, error) {
	c, err := b.connect()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	sources, err := c.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse: list sources: %w", err)
	}
	def, _ := c.DefaultSource()

	out := make([]audio.DeviceInfo, 0, len(sources))
	for _, s := range sources {
		out = append(out, audio.DeviceInfo{
			Name:        s.ID(),
			Description: s.Name(),
			Default:     def != nil && def.ID() == s.ID(),
		})
	}
	return out, nil
}

// Device is a PulseAudio record stream. The server resamples and remixes,
// so every rate and period request is granted.
type Device struct {
	client      *pulselib.Client
	source      *pulselib.Source
	hw          audio.HWParams
	queueDepth  int
	readTimeout time.Duration

	stream  *pulselib.RecordStream
	q       *periodq.Queue
	scratch []byte
}

var _ audio.Device = (*Device)(nil)

// SetAccess implements [audio.Device].
func (d *Device) SetAccess(a audio.Access) error { return audio.CheckAccess(a) }

// SetFormat implements [audio.Device].
func (d *Device) SetFormat(f audio.SampleFormat) error { return audio.CheckFormat(f) }

// SetChannels implements [audio.Device].
func (d *Device) SetChannels(n int) error {
	if err := audio.CheckChannels(n, 2); err != nil {
		return fmt.Errorf("pulse: %w", err)
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

// write receives samples on the client's read goroutine.
func (d *Device) write(samples []int16) (int, error) {
	need := len(samples) * 2
	if cap(d.scratch) < need {
		d.scratch = make([]byte, need)
	}
	b := d.scratch[:need]
	audio.PutS16LE(b, samples)
	if _, err := d.q.Write(b); err != nil {
		return 0, err
	}
	return len(samples), nil
}

// Apply implements [audio.Device]. It creates and starts the record stream.
func (d *Device) Apply() error {
	pb := d.hw.Params().PeriodBytes()
	d.q = periodq.New(pb, d.queueDepth, d.readTimeout)

	layout := pulselib.RecordMono
	if d.hw.Channels == 2 {
		layout = pulselib.RecordStereo
	}
	opts := []pulselib.RecordOption{
		layout,
		pulselib.RecordSampleRate(d.hw.Rate),
		pulselib.RecordBufferFragmentSize(uint32(pb)),
	}
	if d.source != nil {
		opts = append(opts, pulselib.RecordSource(d.source))
	}

	stream, err := d.client.NewRecord(pulselib.Int16Writer(d.write), opts...)
	if err != nil {
		return fmt.Errorf("pulse: new record stream: %w", err)
	}
	stream.Start()
	d.stream = stream
	return nil
}

// Read implements [audio.Device].
func (d *Device) Read(buf []byte) (int, error) {
	if d.q == nil {
		return 0, errors.New("pulse: read before apply")
	}
	n, err := d.q.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("pulse: %w", err)
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

// Drain implements [audio.Device]. It stops the record stream.
func (d *Device) Drain() error {
	if d.stream != nil {
		d.stream.Stop()
	}
	return nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	if d.q != nil {
		d.q.Close()
	}
	if d.stream != nil {
		d.stream.Close()
		d.stream = nil
	}
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
	return nil
}
