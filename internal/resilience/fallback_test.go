package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/mock"
)

func quietFallbackConfig(maxFailures int) FallbackConfig {
	return FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: time.Hour,
			Logger:       quietLogger(),
		},
	}
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		failing  map[string]bool
		wantUsed string
		wantErr  bool
	}{
		{name: "primary succeeds", failing: map[string]bool{}, wantUsed: "alsa"},
		{name: "primary fails", failing: map[string]bool{"alsa": true}, wantUsed: "pulse"},
		{name: "first two fail", failing: map[string]bool{"alsa": true, "pulse": true}, wantUsed: "portaudio"},
		{name: "all fail", failing: map[string]bool{"alsa": true, "pulse": true, "portaudio": true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := NewFallbackGroup("alsa", "alsa", quietFallbackConfig(3))
			fg.AddFallback("pulse", "pulse")
			fg.AddFallback("portaudio", "portaudio")

			got, used, err := ExecuteNamed(fg, func(v string) (string, error) {
				if tt.failing[v] {
					return "", errTest
				}
				return v, nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantUsed || used != tt.wantUsed {
				t.Errorf("got %q from %q, want %q", got, used, tt.wantUsed)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("primary", "primary", quietFallbackConfig(1))
	fg.AddFallback("secondary", "secondary")

	calls := map[string]int{}
	run := func() error {
		return fg.Execute(func(v string) error {
			calls[v]++
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if err := run(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := run(); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if calls["primary"] != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should skip it)", calls["primary"])
	}
	if calls["secondary"] != 2 {
		t.Errorf("secondary called %d times, want 2", calls["secondary"])
	}
	if s := fg.States()["primary"]; s != BreakerOpen {
		t.Errorf("primary breaker = %v, want open", s)
	}
}

type listingBackend struct {
	mock.Backend
	devices []audio.DeviceInfo
}

func (l *listingBackend) Devices() ([]audio.DeviceInfo, error) { return l.devices, nil }

func TestBackendFallback_Open(t *testing.T) {
	t.Parallel()

	broken := &mock.Backend{OpenError: errors.New("no sound server")}
	dev := &mock.Device{}
	working := &mock.Backend{Device: dev}

	f := NewBackendFallback(broken, "pulse", quietFallbackConfig(3))
	f.AddFallback("alsa", working)

	got, err := f.Open("default")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != dev {
		t.Error("expected the fallback backend's device")
	}
	if broken.OpenCount() != 1 || working.OpenCount() != 1 {
		t.Errorf("open counts = %d, %d, want 1 and 1", broken.OpenCount(), working.OpenCount())
	}
	if names := f.Names(); len(names) != 2 || names[0] != "pulse" || names[1] != "alsa" {
		t.Errorf("Names = %v", names)
	}
}

func TestBackendFallback_Devices(t *testing.T) {
	t.Parallel()

	lister := &listingBackend{devices: []audio.DeviceInfo{{Name: "hw:0,0", Default: true}}}
	f := NewBackendFallback(&mock.Backend{}, "plain", quietFallbackConfig(3))
	f.AddFallback("alsa", lister)

	got, err := f.Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(got) != 1 || got[0].Name != "hw:0,0" {
		t.Errorf("Devices = %+v", got)
	}
}
