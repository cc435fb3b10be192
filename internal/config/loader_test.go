package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/micpipe/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: []string{"server.log_level"},
		},
		{
			name: "bad channels",
			yaml: "capture:\n  channels: 3\n",
			want: []string{"capture:", "channels 3"},
		},
		{
			name: "block not frame aligned",
			yaml: "capture:\n  channels: 2\n  block_bytes: 162\n",
			want: []string{"block_bytes 162"},
		},
		{
			name: "bad overflow",
			yaml: "capture:\n  overflow: panic\n",
			want: []string{"overflow \"panic\""},
		},
		{
			name: "negative rate",
			yaml: "capture:\n  sample_rate: -1\n",
			want: []string{"sample_rate -1"},
		},
		{
			name: "duplicate fallback",
			yaml: "capture:\n  backend: alsa\n  fallbacks: [pulse, alsa]\n",
			want: []string{"listed twice"},
		},
		{
			name: "empty fallback",
			yaml: "capture:\n  fallbacks: [\"\"]\n",
			want: []string{"capture.fallbacks[0] is empty"},
		},
		{
			name: "bad sink kind",
			yaml: "sink:\n  kind: mp3\n",
			want: []string{"sink.kind"},
		},
		{
			name: "wav needs path",
			yaml: "sink:\n  kind: wav\n",
			want: []string{"sink.path is required"},
		},
		{
			name: "negative queue",
			yaml: "sink:\n  queue_depth: -4\n",
			want: []string{"sink.queue_depth"},
		},
		{
			name: "bad max retries",
			yaml: "recovery:\n  max_retries: -2\n",
			want: []string{"recovery.max_retries"},
		},
		{
			name: "backoff above cap",
			yaml: "recovery:\n  backoff: 1m\n  max_backoff: 1s\n",
			want: []string{"exceeds recovery.max_backoff"},
		},
		{
			name: "several at once",
			yaml: "server:\n  log_level: loud\nsink:\n  kind: mp3\n",
			want: []string{"server.log_level", "sink.kind"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should contain %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_UnknownBackendOnlyWarns(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("capture:\n  backend: jack\n"))
	if err != nil {
		t.Fatalf("unknown backend should not be an error: %v", err)
	}
	if cfg.Capture.Backend != "jack" {
		t.Errorf("backend: got %q", cfg.Capture.Backend)
	}
}

func TestValidate_RawToStdout(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("sink:\n  kind: raw\n  path: \"-\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sink.Path != "-" {
		t.Errorf("path: got %q", cfg.Sink.Path)
	}
}
