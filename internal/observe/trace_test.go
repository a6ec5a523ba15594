package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// useTracer installs an in-memory tracer provider as the global one for the
// rest of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog routes the default logger into a buffer for the rest of the
// test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartCommandSpan(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartCommandSpan(context.Background(), "relay-1", "relay", "connect_voice")
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("CorrelationID = %q, want a 32 character trace id", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "command connect_voice" {
		t.Errorf("name = %q", got.Name)
	}
	if got.SpanKind != trace.SpanKindConsumer {
		t.Errorf("kind = %v, want consumer", got.SpanKind)
	}
	want := map[string]string{
		"starcommander.worker.id":   "relay-1",
		"starcommander.worker.kind": "relay",
		"starcommander.command":     "connect_voice",
	}
	for _, a := range got.Attributes {
		if v, ok := want[string(a.Key)]; ok && a.Value.AsString() == v {
			delete(want, string(a.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("missing or wrong attributes: %v", want)
	}
}

func TestFailSpan(t *testing.T) {
	exp := useTracer(t)

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "nil error", err: nil, wantStatus: codes.Unset, wantEvents: 0},
		{name: "handler error", err: errors.New("guild not found"), wantStatus: codes.Error, wantEvents: 1},
	}
	for _, tt := range tests {
		exp.Reset()
		_, span := StartSpan(context.Background(), "command "+tt.name)
		FailSpan(span, tt.err)
		span.End()

		got := exp.GetSpans()[0]
		if got.Status.Code != tt.wantStatus {
			t.Errorf("%s: status = %v, want %v", tt.name, got.Status.Code, tt.wantStatus)
		}
		if len(got.Events) != tt.wantEvents {
			t.Errorf("%s: %d events, want %d", tt.name, len(got.Events), tt.wantEvents)
		}
		if tt.err != nil && got.Status.Description != tt.err.Error() {
			t.Errorf("%s: description = %q", tt.name, got.Status.Description)
		}
	}
}

func TestCorrelationID_WithoutSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLog(t)

	Logger(context.Background()).Info("no span")
	ctx, span := StartSpan(context.Background(), "dispatch")
	defer span.End()
	Logger(ctx).Info("in span")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if strings.Contains(lines[0], "trace_id=") {
		t.Errorf("line without span carries a trace id: %s", lines[0])
	}
	wantTrace := "trace_id=" + CorrelationID(ctx)
	if !strings.Contains(lines[1], wantTrace) || !strings.Contains(lines[1], "span_id=") {
		t.Errorf("line in span = %s, want %s and a span id", lines[1], wantTrace)
	}
}
