// Package observe provides application-wide observability primitives for
// arivox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all arivox metrics.
const meterName = "github.com/arivox/arivox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ResponseLatency tracks commit-to-first-audio latency of the Live API.
	ResponseLatency metric.Float64Histogram

	// CallDuration tracks the total lifetime of ended call sessions.
	CallDuration metric.Float64Histogram

	// ARIRequestDuration tracks ARI REST call latency. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	ARIRequestDuration metric.Float64Histogram

	// --- Counters ---

	// InboundFrames counts audio frames received from the PBX.
	InboundFrames metric.Int64Counter

	// OutboundFrames counts audio frames sent back to the PBX.
	OutboundFrames metric.Int64Counter

	// MalformedFrames counts inbound frames rejected by format validation.
	MalformedFrames metric.Int64Counter

	// Interruptions counts caller barge-ins that cancelled a response.
	Interruptions metric.Int64Counter

	// Turns counts recorded conversation turns. Use with attribute:
	//   attribute.String("speaker", ...)
	Turns metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts structured session failures. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// MediaConnections tracks registered external-media WebSocket legs.
	MediaConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callDurationBuckets covers call lifetimes up to the one-hour cap.
var callDurationBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResponseLatency, err = m.Float64Histogram("arivox.response.latency",
		metric.WithDescription("Commit-to-first-audio latency of the Live API."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("arivox.call.duration",
		metric.WithDescription("Total lifetime of ended call sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ARIRequestDuration, err = m.Float64Histogram("arivox.ari.request.duration",
		metric.WithDescription("ARI REST call latency by operation and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.InboundFrames, err = m.Int64Counter("arivox.media.inbound_frames",
		metric.WithDescription("Audio frames received from the PBX."),
	); err != nil {
		return nil, err
	}
	if met.OutboundFrames, err = m.Int64Counter("arivox.media.outbound_frames",
		metric.WithDescription("Audio frames sent back to the PBX."),
	); err != nil {
		return nil, err
	}
	if met.MalformedFrames, err = m.Int64Counter("arivox.media.malformed_frames",
		metric.WithDescription("Inbound frames rejected by format validation."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("arivox.session.interruptions",
		metric.WithDescription("Caller barge-ins that cancelled an in-flight response."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("arivox.session.turns",
		metric.WithDescription("Recorded conversation turns by speaker."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("arivox.session.errors",
		metric.WithDescription("Structured session failures by error kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("arivox.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.MediaConnections, err = m.Int64UpDownCounter("arivox.media.connections",
		metric.WithDescription("Registered external-media WebSocket legs."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("arivox.http.request.duration",
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
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records one conversation turn for the given speaker.
func (m *Metrics) RecordTurn(ctx context.Context, speaker string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordSessionError records one structured session failure by kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordARIRequest records one ARI REST call with its latency in seconds.
func (m *Metrics) RecordARIRequest(ctx context.Context, operation, status string, seconds float64) {
	m.ARIRequestDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}
