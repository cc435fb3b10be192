package observe

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/capture"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CaptureObserver records capture engine telemetry into [Metrics]. It
// implements [capture.Observer].
//
// Attribute sets for the fixed label values are built once per label set so
// the hooks called from the capture goroutine do not allocate.
type CaptureObserver struct {
	m      *Metrics
	labels atomic.Pointer[labelSet]

	// session holds the labels the open session was counted under, so the
	// active gauge is decremented on the same series after a Relabel.
	session atomic.Pointer[labelSet]
}

type labelSet struct {
	base     []attribute.KeyValue
	common   metric.MeasurementOption
	results  map[capture.ReadResult]metric.MeasurementOption
	policies map[capture.OverflowPolicy]metric.MeasurementOption
}

var _ capture.Observer = (*CaptureObserver)(nil)

// NewCaptureObserver returns an observer recording into m. The attrs (for
// example the backend and device name) are attached to every measurement.
func NewCaptureObserver(m *Metrics, attrs ...attribute.KeyValue) *CaptureObserver {
	o := &CaptureObserver{m: m}
	o.Relabel(attrs...)
	return o
}

// Relabel replaces the attributes attached to later measurements.
func (o *CaptureObserver) Relabel(attrs ...attribute.KeyValue) {
	ls := &labelSet{
		base:     slices.Clone(attrs),
		common:   metric.WithAttributeSet(attribute.NewSet(attrs...)),
		results:  make(map[capture.ReadResult]metric.MeasurementOption),
		policies: make(map[capture.OverflowPolicy]metric.MeasurementOption),
	}
	for _, r := range []capture.ReadResult{capture.ReadOK, capture.ReadOverrun, capture.ReadShort, capture.ReadError} {
		ls.results[r] = ls.with(attribute.String("result", r.String()))
	}
	for _, p := range []capture.OverflowPolicy{capture.OverflowFlush, capture.OverflowDropOldest} {
		ls.policies[p] = ls.with(attribute.String("policy", string(p)))
	}
	o.labels.Store(ls)
}

func (ls *labelSet) with(extra ...attribute.KeyValue) metric.MeasurementOption {
	kvs := make([]attribute.KeyValue, 0, len(ls.base)+len(extra))
	kvs = append(kvs, ls.base...)
	kvs = append(kvs, extra...)
	return metric.WithAttributeSet(attribute.NewSet(kvs...))
}

// SessionOpened implements [capture.Observer].
func (o *CaptureObserver) SessionOpened(audio.Params) {
	ls := o.labels.Load()
	o.session.Store(ls)
	o.m.ActiveSessions.Add(context.Background(), 1, ls.common)
}

// SessionClosed implements [capture.Observer].
func (o *CaptureObserver) SessionClosed() {
	ls := o.session.Swap(nil)
	if ls == nil {
		ls = o.labels.Load()
	}
	o.m.ActiveSessions.Add(context.Background(), -1, ls.common)
}

// OpenFailed implements [capture.Observer].
func (o *CaptureObserver) OpenFailed(step string) {
	o.m.OpenFailures.Add(context.Background(), 1, o.labels.Load().with(attribute.String("step", step)))
}

// PeriodRead implements [capture.Observer].
func (o *CaptureObserver) PeriodRead(r capture.ReadResult, d time.Duration) {
	ctx := context.Background()
	ls := o.labels.Load()
	opt, ok := ls.results[r]
	if !ok {
		opt = ls.with(attribute.String("result", r.String()))
	}
	o.m.CapturePeriods.Add(ctx, 1, opt)
	o.m.ReadDuration.Record(ctx, d.Seconds(), ls.common)
}

// BlockDelivered implements [capture.Observer].
func (o *CaptureObserver) BlockDelivered(bytes int, d time.Duration) {
	ctx := context.Background()
	common := o.labels.Load().common
	o.m.Blocks.Add(ctx, 1, common)
	o.m.BlockBytes.Add(ctx, int64(bytes), common)
	o.m.HandlerDuration.Record(ctx, d.Seconds(), common)
}

// Overflow implements [capture.Observer].
func (o *CaptureObserver) Overflow(policy capture.OverflowPolicy) {
	ls := o.labels.Load()
	opt, ok := ls.policies[policy]
	if !ok {
		opt = ls.with(attribute.String("policy", string(policy)))
	}
	o.m.Overflows.Add(context.Background(), 1, opt)
}
