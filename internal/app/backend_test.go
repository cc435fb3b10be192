package app_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/micpipe/internal/app"
	"github.com/MrWong99/micpipe/internal/config"
	"github.com/MrWong99/micpipe/internal/resilience"
	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/mock"
)

func TestRegistryBackends(t *testing.T) {
	t.Parallel()

	broken := &mock.Backend{OpenError: errors.New("no such card")}
	working := &mock.Backend{}

	reg := config.NewRegistry()
	reg.RegisterBackend("alsa", func(config.CaptureConfig) (audio.Backend, error) { return broken, nil })
	reg.RegisterBackend("pulse", func(config.CaptureConfig) (audio.Backend, error) {
		return nil, errors.New("no sound server")
	})
	reg.RegisterBackend("malgo", func(config.CaptureConfig) (audio.Backend, error) { return working, nil })

	tests := []struct {
		name      string
		backend   string
		fallbacks []string
		wantNames []string
		wantErr   bool
	}{
		{name: "primary only", backend: "malgo", wantNames: []string{"malgo"}},
		{name: "skips unavailable", backend: "pulse", fallbacks: []string{"alsa", "malgo"}, wantNames: []string{"alsa", "malgo"}},
		{name: "unregistered is skipped", backend: "portaudio", fallbacks: []string{"malgo"}, wantNames: []string{"malgo"}},
		{name: "none available", backend: "pulse", fallbacks: []string{"portaudio"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Capture.Backend = tt.backend
			cfg.Capture.Fallbacks = tt.fallbacks

			b, err := app.RegistryBackends(reg, quietLogger())(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			fb, ok := b.(*resilience.BackendFallback)
			if !ok {
				t.Fatalf("backend type = %T, want *resilience.BackendFallback", b)
			}
			if got := fb.Names(); !slices.Equal(got, tt.wantNames) {
				t.Errorf("Names() = %v, want %v", got, tt.wantNames)
			}
		})
	}
}

func TestRegistryBackends_FailsOver(t *testing.T) {
	t.Parallel()

	broken := &mock.Backend{OpenError: errors.New("device busy")}
	working := &mock.Backend{}

	reg := config.NewRegistry()
	reg.RegisterBackend("alsa", func(config.CaptureConfig) (audio.Backend, error) { return broken, nil })
	reg.RegisterBackend("pulse", func(config.CaptureConfig) (audio.Backend, error) { return working, nil })

	cfg := config.Default()
	cfg.Capture.Fallbacks = []string{"pulse"}

	b, err := app.RegistryBackends(reg, quietLogger())(cfg)
	if err != nil {
		t.Fatalf("RegistryBackends: %v", err)
	}
	if _, err := b.Open("default"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if broken.OpenCount() != 1 || working.OpenCount() != 1 {
		t.Errorf("open counts = %d/%d, want 1/1", broken.OpenCount(), working.OpenCount())
	}
}
