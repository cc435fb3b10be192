package observe

import (
	"testing"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/capture"
	"github.com/MrWong99/micpipe/pkg/audio/mock"
	"go.opentelemetry.io/otel/attribute"
)

func TestCaptureObserver_Hooks(t *testing.T) {
	m, reader := newTestMetrics(t)
	o := NewCaptureObserver(m, attribute.String("backend", "alsa"))

	o.SessionOpened(audio.Params{SampleRate: 8000, Channels: 1, PeriodFrames: 160})
	o.PeriodRead(capture.ReadOK, 20*time.Millisecond)
	o.PeriodRead(capture.ReadOK, 20*time.Millisecond)
	o.PeriodRead(capture.ReadOverrun, time.Millisecond)
	o.PeriodRead(capture.ReadShort, time.Millisecond)
	o.BlockDelivered(320, time.Microsecond)
	o.Overflow(capture.OverflowDropOldest)
	o.OpenFailed("channels")

	rm := collect(t, reader)

	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"micpipe.capture.periods", "result", "ok", 2},
		{"micpipe.capture.periods", "result", "overrun", 1},
		{"micpipe.capture.periods", "result", "short", 1},
		{"micpipe.capture.blocks", "backend", "alsa", 1},
		{"micpipe.capture.block.bytes", "backend", "alsa", 320},
		{"micpipe.capture.overflows", "policy", "drop_oldest", 1},
		{"micpipe.capture.open_failures", "step", "channels", 1},
		{"micpipe.capture.active_sessions", "backend", "alsa", 1},
	}
	for _, tt := range tests {
		if got := sumByAttr(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.key, tt.value, got, tt.want)
		}
	}
	if got := histCount(t, rm, "micpipe.capture.read.duration"); got != 4 {
		t.Errorf("read duration samples = %d, want 4", got)
	}
	if got := histCount(t, rm, "micpipe.capture.handler.duration"); got != 1 {
		t.Errorf("handler duration samples = %d, want 1", got)
	}

	o.SessionClosed()
	rm = collect(t, reader)
	if got := totalSum(t, rm, "micpipe.capture.active_sessions"); got != 0 {
		t.Errorf("active sessions after close = %d, want 0", got)
	}
}

// TestCaptureObserver_WithMicrophone drives a real capture session against a
// mock device and checks the recorded metrics line up with the engine's own
// counters.
func TestCaptureObserver_WithMicrophone(t *testing.T) {
	m, reader := newTestMetrics(t)
	o := NewCaptureObserver(m)

	backend := &mock.Backend{Device: &mock.Device{ReadDelay: time.Millisecond}}
	h := &mock.Handler{}
	mic, err := capture.New(backend, capture.Config{PeriodFrames: 80, WaitInterval: 0},
		capture.WithObserver(o),
		capture.WithHandler(h),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = mic.Destroy() })

	if err := mic.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !h.WaitFor(3, 2*time.Second) {
		t.Fatal("no blocks delivered")
	}
	if err := mic.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st := mic.Stats()
	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "micpipe.capture.periods", "result", "ok"); uint64(got) != st.Periods {
		t.Errorf("ok periods metric = %d, engine counted %d", got, st.Periods)
	}
	if got := totalSum(t, rm, "micpipe.capture.blocks"); uint64(got) != st.Blocks {
		t.Errorf("blocks metric = %d, engine counted %d", got, st.Blocks)
	}
	if got := totalSum(t, rm, "micpipe.capture.active_sessions"); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
}

func TestCaptureObserver_Relabel(t *testing.T) {
	m, reader := newTestMetrics(t)
	o := NewCaptureObserver(m, attribute.String("device", "hw:0,0"))

	o.SessionOpened(audio.Params{})
	o.PeriodRead(capture.ReadOK, time.Millisecond)
	// A relabel while the session is open must not split the active gauge.
	o.Relabel(attribute.String("device", "hw:1,0"))
	o.SessionClosed()

	o.SessionOpened(audio.Params{})
	o.PeriodRead(capture.ReadOK, time.Millisecond)
	o.PeriodRead(capture.ReadOK, time.Millisecond)

	rm := collect(t, reader)
	tests := []struct {
		metric, device string
		want           int64
	}{
		{"micpipe.capture.periods", "hw:0,0", 1},
		{"micpipe.capture.periods", "hw:1,0", 2},
		{"micpipe.capture.active_sessions", "hw:0,0", 0},
		{"micpipe.capture.active_sessions", "hw:1,0", 1},
	}
	for _, tt := range tests {
		if got := sumByAttr(t, rm, tt.metric, "device", tt.device); got != tt.want {
			t.Errorf("%s{device=%s} = %d, want %d", tt.metric, tt.device, got, tt.want)
		}
	}
}
