// Package observe provides application-wide observability primitives for
// micpipe: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// CapturePeriods counts device reads. Use with attribute:
	//   attribute.String("result", "ok"|"overrun"|"short"|"error")
	CapturePeriods metric.Int64Counter

	// ReadDuration tracks how long each device read blocked.
	ReadDuration metric.Float64Histogram

	// Blocks counts delivery blocks handed to the handler.
	Blocks metric.Int64Counter

	// BlockBytes counts delivered PCM bytes.
	BlockBytes metric.Int64Counter

	// HandlerDuration tracks time spent inside the block handler.
	HandlerDuration metric.Float64Histogram

	// Overflows counts accumulation overflows. Use with attribute:
	//   attribute.String("policy", ...)
	Overflows metric.Int64Counter

	// OpenFailures counts failed device opens. Use with attribute:
	//   attribute.String("step", ...)
	OpenFailures metric.Int64Counter

	// ActiveSessions tracks the number of open capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Sink ---

	// SinkDropped counts blocks dropped because the sink queue was full.
	SinkDropped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// readBuckets defines histogram bucket boundaries (in seconds) sized around
// typical period durations of 2 to 100 ms.
var readBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.08, 0.16, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(scope)
	var err error
	met := &Metrics{}

	// Counters.
	if met.CapturePeriods, err = m.Int64Counter("micpipe.capture.periods",
		metric.WithDescription("Device reads by result."),
	); err != nil {
		return nil, err
	}
	if met.Blocks, err = m.Int64Counter("micpipe.capture.blocks",
		metric.WithDescription("Delivery blocks handed to the handler."),
	); err != nil {
		return nil, err
	}
	if met.BlockBytes, err = m.Int64Counter("micpipe.capture.block.bytes",
		metric.WithDescription("PCM bytes delivered to the handler."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Overflows, err = m.Int64Counter("micpipe.capture.overflows",
		metric.WithDescription("Accumulation overflows by policy."),
	); err != nil {
		return nil, err
	}
	if met.OpenFailures, err = m.Int64Counter("micpipe.capture.open_failures",
		metric.WithDescription("Failed device opens by negotiation step."),
	); err != nil {
		return nil, err
	}
	if met.SinkDropped, err = m.Int64Counter("micpipe.sink.dropped",
		metric.WithDescription("Blocks dropped because the sink queue was full."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ReadDuration, err = m.Float64Histogram("micpipe.capture.read.duration",
		metric.WithDescription("Time blocked in a single device read."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(readBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandlerDuration, err = m.Float64Histogram("micpipe.capture.handler.duration",
		metric.WithDescription("Time spent in the block handler."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(readBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("micpipe.capture.active_sessions",
		metric.WithDescription("Number of open capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("micpipe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSinkDrop records n blocks dropped by the named sink.
func (m *Metrics) RecordSinkDrop(ctx context.Context, sink string, n int64) {
	m.SinkDropped.Add(ctx, n, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordOpenFailure records a failed device open at step.
func (m *Metrics) RecordOpenFailure(ctx context.Context, step string) {
	m.OpenFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}
