// Package observe provides observability primitives for the NavTalk client:
// OpenTelemetry metrics with a Prometheus exporter bridge and HTTP middleware
// for the metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all client metrics.
const meterName = "github.com/navtalk/esl-tutor"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ConnectDuration tracks time from connect() to the Connected state.
	ConnectDuration metric.Float64Histogram

	// SessionOutcomes counts finished connection attempts. Use with
	// attribute: attribute.String("status", "connected"|"failed").
	SessionOutcomes metric.Int64Counter

	// EventsReceived counts inbound control-channel events by kind.
	EventsReceived metric.Int64Counter

	// AudioChunksSent counts base64 capture chunks written to the channel.
	AudioChunksSent metric.Int64Counter

	// AudioChunksQueued counts assistant audio chunks handed to playback.
	AudioChunksQueued metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ActiveSessions tracks the number of live sessions (0 or 1 per
	// manager).
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time on the
	// metrics server. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("navtalk.connect.duration",
		metric.WithDescription("Time from connect() to the Connected state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("navtalk.session.outcomes",
		metric.WithDescription("Finished connection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.EventsReceived, err = m.Int64Counter("navtalk.events.received",
		metric.WithDescription("Inbound control-channel events by kind."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksSent, err = m.Int64Counter("navtalk.audio.chunks_sent",
		metric.WithDescription("Capture chunks written to the control channel."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksQueued, err = m.Int64Counter("navtalk.audio.chunks_queued",
		metric.WithDescription("Assistant audio chunks handed to playback."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("navtalk.tool.calls",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("navtalk.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("navtalk.http.request.duration",
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

// RecordEvent records one inbound control-channel event. Nil-safe so callers
// without metrics wired can pass a nil *Metrics.
func (m *Metrics) RecordEvent(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordToolCall records a tool invocation with the standard attribute set.
// Nil-safe.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordSessionOutcome records a finished connection attempt. Nil-safe.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// AddChunksSent increments the capture chunk counter. Nil-safe.
func (m *Metrics) AddChunksSent(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.AudioChunksSent.Add(ctx, n)
}

// AddChunksQueued increments the playback chunk counter. Nil-safe.
func (m *Metrics) AddChunksQueued(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.AudioChunksQueued.Add(ctx, n)
}

// SessionActive adjusts the live-session gauge by delta. Nil-safe.
func (m *Metrics) SessionActive(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

// ObserveConnectDuration records connection setup time in seconds. Nil-safe.
func (m *Metrics) ObserveConnectDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.ConnectDuration.Record(ctx, seconds)
}
