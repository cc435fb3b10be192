package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// WAV encodes blocks into a 16-bit PCM WAV stream. The RIFF header sizes are
// only correct after Close.
type WAV struct {
	mu     sync.Mutex
	enc    *wav.Encoder
	file   io.Closer
	buf    *goaudio.IntBuffer
	frames int64
	params audio.Params
	err    error
	closed bool
}

var _ Sink = (*WAV)(nil)

// NewWAV returns a WAV sink writing to ws with the rate and channel count of
// p. ws is not closed by Close.
func NewWAV(ws io.WriteSeeker, p audio.Params) *WAV {
	return &WAV{
		enc: wav.NewEncoder(ws, p.SampleRate, 16, p.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
			SourceBitDepth: 16,
		},
		params: p,
	}
}

// CreateWAV creates (or truncates) the file at path and returns a WAV sink
// that closes it on Close.
func CreateWAV(path string, p audio.Params) (*WAV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create wav: %w", err)
	}
	w := NewWAV(f, p)
	w.file = f
	return w, nil
}

// HandleBlock implements [capture.Handler].
func (w *WAV) HandleBlock(block []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.err != nil {
		return
	}

	samples := audio.S16LE(block)
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		w.buf.Data[i] = int(s)
	}
	if err := w.enc.Write(w.buf); err != nil {
		w.err = fmt.Errorf("sink: encode wav: %w", err)
		return
	}
	if fb := w.params.FrameBytes(); fb > 0 {
		w.frames += int64(len(block) / fb)
	}
}

// Frames returns the number of frames encoded so far.
func (w *WAV) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Err returns the first encoding error.
func (w *WAV) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close finalises the WAV header and closes the file opened by CreateWAV.
func (w *WAV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	errs := []error{w.err}
	if err := w.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("sink: finalise wav: %w", err))
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink: close wav file: %w", err))
		}
	}
	return errors.Join(errs...)
}
