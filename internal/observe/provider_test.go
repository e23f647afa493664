package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// restoreGlobals puts the global OTel providers back after the test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func TestInitProvider_ExportsSpansAndMetrics(t *testing.T) {
	restoreGlobals(t)
	reg := prometheus.NewRegistry()
	exp := tracetest.NewInMemoryExporter()

	shutdown, err := InitProvider(context.Background(),
		WithServiceVersion("1.2.3"),
		WithInstanceID("test-instance"),
		WithRegisterer(reg),
		WithSpanExporter(exp),
	)
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordConnect(context.Background(), 0.5, "ok")

	_, span := StartSpan(WithSession(context.Background(), "s1"), "live.connect")
	span.End()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if strings.Contains(f.GetName(), "connect") {
			found = true
		}
	}
	if !found {
		t.Error("no connect metric in the registry")
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	res := spans[0].Resource.Attributes()
	want := map[string]string{
		"service.name":        "livevox",
		"service.version":     "1.2.3",
		"service.instance.id": "test-instance",
	}
	for _, kv := range res {
		if w, ok := want[string(kv.Key)]; ok {
			if kv.Value.AsString() != w {
				t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), w)
			}
			delete(want, string(kv.Key))
		}
	}
	if len(want) > 0 {
		t.Errorf("resource missing %v", want)
	}
}

func TestInitProvider_SampleRatioZero(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(),
		WithRegisterer(prometheus.NewRegistry()),
		WithSpanExporter(exp),
		WithSampleRatio(0),
	)
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	_, span := StartSpan(context.Background(), "dropped")
	if span.SpanContext().IsSampled() {
		t.Error("span sampled at ratio 0")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("exported %d spans, want 0", n)
	}
}
