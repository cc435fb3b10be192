package health

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/micpipe/pkg/audio/capture"
)

// CaptureSource is the read-only view of a microphone the capture checkers
// need. [*capture.Microphone] implements it.
type CaptureSource interface {
	State() capture.State
	Stats() capture.Stats
	SessionID() string
}

var _ CaptureSource = (*capture.Microphone)(nil)

// CaptureChecker fails unless src has an open capture session.
func CaptureChecker(src CaptureSource) Checker {
	return Checker{
		Name: "capture",
		Check: func(context.Context) error {
			if s := src.State(); s != capture.StateOpen {
				return fmt.Errorf("microphone is %s", s)
			}
			return nil
		},
	}
}

// ProgressChecker fails when an open session has completed no device read
// since the previous check. A device whose read blocks forever keeps the
// session open but stalls the capture goroutine; this catches it. The first
// check of every session only records a baseline and passes.
func ProgressChecker(src CaptureSource) Checker {
	p := &progress{src: src}
	return Checker{Name: "capture_progress", Check: p.check}
}

type progress struct {
	src CaptureSource

	mu      sync.Mutex
	session string
	reads   uint64
}

func (p *progress) check(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src.State() != capture.StateOpen {
		p.session = ""
		return nil
	}
	id := p.src.SessionID()
	st := p.src.Stats()
	reads := st.Periods + st.Faults()

	if id != p.session {
		p.session = id
		p.reads = reads
		return nil
	}
	if reads == p.reads {
		return errors.New("no device reads since last check")
	}
	p.reads = reads
	return nil
}
