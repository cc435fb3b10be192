package sink

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-audio/wav"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/capture"
	"github.com/MrWong99/micpipe/pkg/audio/mock"
)

type errWriter struct{ n int }

func (w *errWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("disk full")
}

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestRaw(t *testing.T) {
	t.Parallel()

	t.Run("writes blocks", func(t *testing.T) {
		t.Parallel()
		w := &closeRecorder{}
		r := NewRaw(w)
		r.HandleBlock([]byte{1, 2})
		r.HandleBlock([]byte{3})
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if !bytes.Equal(w.Bytes(), []byte{1, 2, 3}) {
			t.Errorf("written = %v", w.Bytes())
		}
		if r.Written() != 3 {
			t.Errorf("Written = %d, want 3", r.Written())
		}
		if !w.closed {
			t.Error("underlying closer not closed")
		}
		r.HandleBlock([]byte{4})
		if w.Len() != 3 {
			t.Error("block written after Close")
		}
	})

	t.Run("keeps first error", func(t *testing.T) {
		t.Parallel()
		w := &errWriter{}
		r := NewRaw(w)
		r.HandleBlock([]byte{1})
		r.HandleBlock([]byte{2})
		if w.n != 1 {
			t.Errorf("writer called %d times after failure, want 1", w.n)
		}
		if r.Err() == nil || r.Close() == nil {
			t.Error("expected the write error to be reported")
		}
	})
}

func TestChan(t *testing.T) {
	t.Parallel()

	c := NewChan(1)
	block := []byte{9, 9}
	c.HandleBlock(block)
	block[0] = 0
	c.HandleBlock(block)

	if c.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", c.Dropped())
	}
	got := <-c.C()
	if got[0] != 9 {
		t.Error("Chan did not copy the block")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-c.C(); ok {
		t.Error("channel not closed")
	}
	c.HandleBlock(block)
	_ = c.Close()
}

type gatedHandler struct {
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	blocks [][]byte
	closed bool
}

func (g *gatedHandler) HandleBlock(block []byte) {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocks = append(g.blocks, block)
}

func (g *gatedHandler) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestAsync_DropsWhenFull(t *testing.T) {
	t.Parallel()

	next := &gatedHandler{entered: make(chan struct{}), gate: make(chan struct{})}
	var hookCalls int
	a := NewAsync(next, 1, WithDropHook(func() { hookCalls++ }))

	a.HandleBlock([]byte{1})
	<-next.entered
	a.HandleBlock([]byte{2})
	a.HandleBlock([]byte{3})

	if a.Dropped() != 1 || hookCalls != 1 {
		t.Fatalf("Dropped = %d, hook calls = %d, want 1 and 1", a.Dropped(), hookCalls)
	}

	close(next.gate)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(next.blocks) != 2 || next.blocks[0][0] != 1 || next.blocks[1][0] != 2 {
		t.Errorf("handled = %v, want [[1] [2]]", next.blocks)
	}
	if !next.closed {
		t.Error("wrapped handler not closed")
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	a.HandleBlock([]byte{4})
}

func TestAsync_FlushesOnClose(t *testing.T) {
	t.Parallel()

	h := &mock.Handler{}
	a := NewAsync(h, 0)
	for i := range 10 {
		a.HandleBlock([]byte{byte(i)})
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.Count() != 10 {
		t.Errorf("handled %d blocks, want 10", h.Count())
	}
}

func TestMulti(t *testing.T) {
	t.Parallel()

	h1, h2 := &mock.Handler{}, &mock.Handler{}
	c := &closeRecorder{}
	m := NewMulti(h1, nil, NewRaw(c), h2)
	m.HandleBlock([]byte{5})

	if h1.Count() != 1 || h2.Count() != 1 || c.Len() != 1 {
		t.Errorf("fan-out incomplete: %d %d %d", h1.Count(), h2.Count(), c.Len())
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !c.closed {
		t.Error("closer handler not closed")
	}
}

func TestWAV_RoundTripHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	p := audio.Params{SampleRate: 8000, Channels: 1, PeriodFrames: 160, Format: audio.FormatS16LE}
	w, err := CreateWAV(path, p)
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}

	block := make([]byte, 320)
	audio.PutS16LE(block[:4], []int16{1000, -1000})
	var h capture.Handler = w
	h.HandleBlock(block)
	h.HandleBlock(block)
	if w.Frames() != 320 {
		t.Errorf("Frames = %d, want 320", w.Frames())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("not a valid WAV file")
	}
	if dec.SampleRate != 8000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("header = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if len(buf.Data) != 320 {
		t.Fatalf("decoded %d samples, want 320", len(buf.Data))
	}
	if buf.Data[0] != 1000 || buf.Data[1] != -1000 {
		t.Errorf("first samples = %v", buf.Data[:2])
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	p := audio.Params{SampleRate: 8000, Channels: 1, PeriodFrames: 160}
	dir := t.TempDir()

	tests := []struct {
		name    string
		kind    Kind
		path    string
		wantErr bool
	}{
		{name: "discard", kind: KindDiscard},
		{name: "empty kind", kind: ""},
		{name: "wav", kind: KindWAV, path: filepath.Join(dir, "a.wav")},
		{name: "wav without path", kind: KindWAV, wantErr: true},
		{name: "raw file", kind: KindRaw, path: filepath.Join(dir, "a.pcm")},
		{name: "raw stdout", kind: KindRaw, path: "-"},
		{name: "unknown", kind: "flac", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := Open(tt.kind, tt.path, p)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}
