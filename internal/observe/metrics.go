// Package observe provides application-wide observability primitives for
// livevox: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all livevox metrics.
const meterName = "github.com/MrWong99/livevox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from Connect until the remote session
	// reports open (or fails). Use with attribute:
	//   attribute.String("status", ...)
	ConnectDuration metric.Float64Histogram

	// --- Capture ---

	// FramesSent counts outbound microphone frames handed to the session.
	FramesSent metric.Int64Counter

	// FramesDropped counts outbound frames that never reached the session.
	// Use with attribute:
	//   attribute.String("reason", ...) // no_session, send_error, convert_error
	FramesDropped metric.Int64Counter

	// --- Playback ---

	// ChunksScheduled counts inbound audio chunks placed on the playback clock.
	ChunksScheduled metric.Int64Counter

	// ChunkDecodeFailures counts inbound chunks that could not be decoded.
	ChunkDecodeFailures metric.Int64Counter

	// VoiceStopFailures counts playback units that failed to stop during an
	// interruption or teardown.
	VoiceStopFailures metric.Int64Counter

	// Interruptions counts server-signalled interruptions.
	Interruptions metric.Int64Counter

	// TurnsCompleted counts model turns reported complete by the server.
	TurnsCompleted metric.Int64Counter

	// --- Session ---

	// TranscriptEntries counts transcript entries appended. Use with attribute:
	//   attribute.String("sender", ...)
	TranscriptEntries metric.Int64Counter

	// StateTransitions counts connection state changes. Use with attribute:
	//   attribute.String("state", ...)
	StateTransitions metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks the number of open remote sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration is recorded by [Middleware] with route and status
	// attributes.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for session setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("livevox.connect.duration",
		metric.WithDescription("Latency from connect request to session open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesSent, "livevox.capture.frames_sent", "Total microphone frames sent to the remote session."},
		{&met.FramesDropped, "livevox.capture.frames_dropped", "Total microphone frames dropped by reason."},
		{&met.ChunksScheduled, "livevox.playback.chunks_scheduled", "Total inbound audio chunks scheduled for playback."},
		{&met.ChunkDecodeFailures, "livevox.playback.decode_failures", "Total inbound audio chunks that failed to decode."},
		{&met.VoiceStopFailures, "livevox.playback.stop_failures", "Total playback units that failed to stop."},
		{&met.Interruptions, "livevox.playback.interruptions", "Total interruptions signalled by the server."},
		{&met.TurnsCompleted, "livevox.session.turns_completed", "Total model turns reported complete."},
		{&met.TranscriptEntries, "livevox.transcript.entries", "Total transcript entries appended by sender."},
		{&met.StateTransitions, "livevox.session.state_transitions", "Total connection state transitions by target state."},
		{&met.ProviderErrors, "livevox.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livevox.active_sessions",
		metric.WithDescription("Number of open remote sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livevox.http.request.duration",
		metric.WithDescription("Latency of non-upgraded HTTP requests by route and status."),
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

// RecordFrameDropped records one dropped outbound frame with its reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStateTransition records a connection state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordTranscriptEntry records one appended transcript entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, sender string) {
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("sender", sender)))
}

// RecordConnect records the duration of one connection attempt.
func (m *Metrics) RecordConnect(ctx context.Context, seconds float64, status string) {
	m.ConnectDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
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
