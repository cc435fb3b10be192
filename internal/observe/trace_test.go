package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestEndSpan(t *testing.T) {
	exp := useTestTracer(t)

	tests := []struct {
		name   string
		err    error
		status codes.Code
		events int
	}{
		{name: "success", status: codes.Unset},
		{name: "failure", err: errors.New("no such device"), status: codes.Error, events: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp.Reset()
			ctx, span := StartSpan(context.Background(), "capture.open", attribute.String("device", "hw:0,0"))
			if TraceID(ctx) == "" {
				t.Fatal("StartSpan returned a context without a trace id")
			}
			EndSpan(span, tt.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			got := spans[0]
			if got.Name != "capture.open" {
				t.Errorf("name = %q", got.Name)
			}
			if got.Status.Code != tt.status {
				t.Errorf("status = %v, want %v", got.Status.Code, tt.status)
			}
			if len(got.Events) != tt.events {
				t.Errorf("events = %d, want %d", len(got.Events), tt.events)
			}
			if len(got.Attributes) != 1 || got.Attributes[0].Value.AsString() != "hw:0,0" {
				t.Errorf("attributes = %v", got.Attributes)
			}
		})
	}
}

func TestTraceID(t *testing.T) {
	useTestTracer(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "id")
		id := TraceID(ctx)
		span.End()
		if len(id) != 32 || strings.Trim(id, "0123456789abcdef") != "" {
			t.Fatalf("TraceID = %q, want 32 hex digits", id)
		}
		if seen[id] {
			t.Fatalf("duplicate trace id %s", id)
		}
		seen[id] = true
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Logger(context.Background(), base).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}
	buf.Reset()

	ctx, span := StartSpan(context.Background(), "log")
	defer span.End()
	Logger(ctx, base).Info("traced")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+TraceID(ctx)) || !strings.Contains(out, "span_id=") {
		t.Errorf("log with span missing ids: %s", out)
	}

	if Logger(context.Background(), nil) != slog.Default() {
		t.Error("nil base should fall back to slog.Default")
	}
}
