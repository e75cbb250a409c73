package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// startRecordedSpan opens a span on an in-memory tracer provider and returns
// the span context plus the exporter holding finished spans.
func startRecordedSpan(t *testing.T, name string) (context.Context, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), name)
	t.Cleanup(func() { span.End() })
	return ctx, exp
}

// captureLogs routes the default slog logger into a buffer for the test.
func captureLogs(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	prior := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prior) })
	return &buf
}

// ─── TestCorrelationID ───────────────────────────────────────────────────────

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID on a bare context = %q; want empty", got)
	}
}

func TestCorrelationID_IsTheTraceID(t *testing.T) {
	ctx, _ := startRecordedSpan(t, "call-setup")

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation id length = %d; want 32", len(cid))
	}
	for _, c := range cid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("correlation id %q is not lowercase hex", cid)
		}
	}
}

func TestCorrelationID_DistinctPerTrace(t *testing.T) {
	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, _ := startRecordedSpan(t, "unique")
		cid := CorrelationID(ctx)
		if _, dup := seen[cid]; dup {
			t.Fatalf("duplicate correlation id %s", cid)
		}
		seen[cid] = struct{}{}
	}
}

// ─── TestStartSpan ───────────────────────────────────────────────────────────

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prior := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prior) })

	ctx, span := StartSpan(context.Background(), "teardown")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced no trace id")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "teardown" {
		t.Fatalf("recorded spans = %+v; want one named teardown", spans)
	}
}

// ─── TestLogger ──────────────────────────────────────────────────────────────

func TestLogger_CarriesTraceIDs(t *testing.T) {
	buf := captureLogs(t)
	ctx, _ := startRecordedSpan(t, "logged")

	Logger(ctx).Info("media leg connected")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing trace attributes: %s", out)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("startup")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line should carry no trace id: %s", out)
	}
}
