package observe

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

type setup struct {
	version    string
	instanceID string
	registerer prometheus.Registerer
	spans      sdktrace.SpanExporter
	ratio      float64
}

// SetupOption configures [InitProvider].
type SetupOption func(*setup)

// WithServiceVersion sets service.version on every metric and span.
func WithServiceVersion(v string) SetupOption {
	return func(s *setup) { s.version = v }
}

// WithInstanceID overrides the random service.instance.id.
func WithInstanceID(id string) SetupOption {
	return func(s *setup) { s.instanceID = id }
}

// WithRegisterer sends metrics to r instead of the Prometheus default
// registry served on /metrics.
func WithRegisterer(r prometheus.Registerer) SetupOption {
	return func(s *setup) { s.registerer = r }
}

// WithSpanExporter batches finished spans to e. Without one spans are
// sampled for log correlation but never leave the process.
func WithSpanExporter(e sdktrace.SpanExporter) SetupOption {
	return func(s *setup) { s.spans = e }
}

// WithSampleRatio samples that fraction of root spans. Children follow their
// parent. Default 1.
func WithSampleRatio(r float64) SetupOption {
	return func(s *setup) { s.ratio = r }
}

// InitProvider installs global meter and tracer providers for livevox and
// returns a function that flushes and stops both. Metrics are bridged to
// Prometheus.
func InitProvider(ctx context.Context, opts ...SetupOption) (func(context.Context) error, error) {
	s := setup{
		instanceID: uuid.NewString(),
		registerer: prometheus.DefaultRegisterer,
		ratio:      1,
	}
	for _, o := range opts {
		o(&s)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("livevox"),
		semconv.ServiceVersion(s.version),
		semconv.ServiceInstanceID(s.instanceID),
	))
	if err != nil {
		return nil, err
	}

	reader, err := promexporter.New(promexporter.WithRegisterer(s.registerer))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.ratio))),
	}
	if s.spans != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(s.spans))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Spans first so their exporter is drained before metrics stop.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
