// Package observe provides application-wide observability primitives for
// Yeiya: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Yeiya metrics.
const meterName = "github.com/searmo/yeiya"

// Session start outcomes used with [Metrics.RecordSessionStart].
const (
	OutcomeActive             = "active"
	OutcomeCredentialMissing  = "credential_missing"
	OutcomeConnectionRejected = "connection_rejected"
	OutcomeDeviceUnavailable  = "device_unavailable"
	OutcomeSuperseded         = "superseded"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Live sessions ---

	// SessionStarts counts session start attempts. Use with attribute:
	//   attribute.String("outcome", ...)
	SessionStarts metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks the time from dial to setup acknowledgement.
	ConnectDuration metric.Float64Histogram

	// FramesSent counts microphone blocks delivered to the transport.
	FramesSent metric.Int64Counter

	// FramesReceived counts inbound audio frames from the transport.
	FramesReceived metric.Int64Counter

	// DecodeFailures counts inbound frames dropped because they could not
	// be decoded.
	DecodeFailures metric.Int64Counter

	// ScheduledAudio accumulates the seconds of agent speech scheduled.
	ScheduledAudio metric.Float64Counter

	// --- Chat ---

	// ChatRequests counts chat completions. Use with attribute:
	//   attribute.String("status", ...)
	ChatRequests metric.Int64Counter

	// ChatDuration tracks chat completion latency.
	ChatDuration metric.Float64Histogram

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Leads ---

	// LeadsDispatched counts lead deliveries. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	LeadsDispatched metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection and completion latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionStarts, err = m.Int64Counter("yeiya.live.session.starts",
		metric.WithDescription("Live session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("yeiya.live.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("yeiya.live.connect.duration",
		metric.WithDescription("Time from dial to setup acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("yeiya.live.frames.sent",
		metric.WithDescription("Microphone blocks delivered to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("yeiya.live.frames.received",
		metric.WithDescription("Inbound audio frames from the transport."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("yeiya.live.decode_failures",
		metric.WithDescription("Inbound frames dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.ScheduledAudio, err = m.Float64Counter("yeiya.live.scheduled_audio",
		metric.WithDescription("Seconds of agent speech scheduled for playback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ChatRequests, err = m.Int64Counter("yeiya.chat.requests",
		metric.WithDescription("Chat completions by status."),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("yeiya.chat.duration",
		metric.WithDescription("Latency of chat completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("yeiya.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.LeadsDispatched, err = m.Int64Counter("yeiya.leads.dispatched",
		metric.WithDescription("Lead deliveries by sink and status."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("yeiya.http.request.duration",
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

// RecordSessionStart records one session start attempt with its outcome.
func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordChat records one chat completion and its latency.
func (m *Metrics) RecordChat(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.ChatRequests.Add(ctx, 1, attrs)
	m.ChatDuration.Record(ctx, seconds, attrs)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordLead records one lead delivery attempt.
func (m *Metrics) RecordLead(ctx context.Context, sink, status string) {
	m.LeadsDispatched.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}
