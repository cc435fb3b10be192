package sink

import (
	"fmt"
	"os"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// Kind names a sink implementation selectable from configuration.
type Kind string

const (
	KindWAV     Kind = "wav"
	KindRaw     Kind = "raw"
	KindDiscard Kind = "discard"
)

// IsValid reports whether k is a known sink kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindWAV, KindRaw, KindDiscard:
		return true
	}
	return false
}

// Open builds the sink selected by kind for a session with parameters p.
// File sinks write to path; a raw sink with path "-" writes to stdout.
func Open(kind Kind, path string, p audio.Params) (Sink, error) {
	switch kind {
	case KindDiscard, "":
		return Discard{}, nil
	case KindWAV:
		if path == "" {
			return nil, fmt.Errorf("sink: wav requires a path")
		}
		return CreateWAV(path, p)
	case KindRaw:
		if path == "" || path == "-" {
			return NewRaw(nopCloser{os.Stdout}), nil
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("sink: create raw: %w", err)
		}
		return NewRaw(f), nil
	default:
		return nil, fmt.Errorf("sink: unknown kind %q", kind)
	}
}

// nopCloser keeps Raw from closing stdout.
type nopCloser struct {
	*os.File
}

func (nopCloser) Close() error { return nil }
