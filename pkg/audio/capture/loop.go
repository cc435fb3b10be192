package capture

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// session is the per-open state owned by the capture goroutine.
type session struct {
	log    *slog.Logger
	dev    audio.Device
	params audio.Params
	wait   time.Duration
	policy OverflowPolicy

	period []byte
	acc    *accumulator

	overflowWarned bool
}

// newSession allocates the period and accumulation buffers for the
// negotiated parameters. m.mu must be held and m.dev must be set.
func (m *Microphone) newSession() *session {
	pb := m.params.PeriodBytes()
	return &session{
		log:    m.log,
		dev:    m.dev,
		params: m.params,
		wait:   m.cfg.WaitInterval,
		policy: m.cfg.Overflow,
		period: make([]byte, pb),
		acc:    newAccumulator(pb, m.cfg.BlockBytes, m.cfg.MaxBlocks, m.cfg.Overflow),
	}
}

// run is the capture loop. It exits only when the worker is stopped; read
// faults drop the current period and the loop carries on.
func (m *Microphone) run(w *worker, s *session) {
	s.log.Debug("capture loop started")
	defer s.log.Debug("capture loop stopped", "pending_bytes", s.acc.pending())

	for w.Wait(s.wait) {
		start := time.Now()
		frames, err := s.dev.Read(s.period)
		res := s.classify(frames, err)
		m.stats.recordRead(res)
		m.observer.PeriodRead(res, time.Since(start))
		if res.Faulted() {
			continue
		}

		h := m.currentHandler()
		if h == nil {
			s.acc.reset()
			continue
		}

		out := s.acc.add(s.period)
		if out.overflowed {
			m.overflowed(s)
		}
		if out.block != nil {
			m.deliver(h, out.block)
		}
	}
}

// classify maps a device read to a [ReadResult]. An overrun re-prepares the
// stream so the next read can succeed.
func (s *session) classify(frames int, err error) ReadResult {
	switch {
	case errors.Is(err, audio.ErrOverrun):
		s.log.Warn("capture overrun, re-preparing device")
		if perr := s.dev.Prepare(); perr != nil {
			s.log.Error("prepare after overrun failed", "err", perr)
		}
		return ReadOverrun
	case err != nil:
		s.log.Error("capture read failed", "err", err)
		return ReadError
	case frames != s.params.PeriodFrames:
		s.log.Warn("short capture read", "frames", frames, "want", s.params.PeriodFrames)
		return ReadShort
	}
	return ReadOK
}

func (m *Microphone) overflowed(s *session) {
	m.stats.overflows.Add(1)
	m.observer.Overflow(s.policy)
	if !s.overflowWarned {
		s.overflowWarned = true
		s.log.Warn("capture buffer full before delivery threshold",
			"policy", s.policy,
			"period_bytes", s.params.PeriodBytes(),
		)
		return
	}
	s.log.Debug("capture buffer overflow", "policy", s.policy)
}

func (m *Microphone) deliver(h Handler, block []byte) {
	start := time.Now()
	h.HandleBlock(block)
	m.stats.blocks.Add(1)
	m.stats.bytes.Add(uint64(len(block)))
	m.observer.BlockDelivered(len(block), time.Since(start))
}
