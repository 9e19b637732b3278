package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInitProvider_BridgesMetricsToPrometheus(t *testing.T) {
	restoreGlobals(t)
	reg := prometheus.NewRegistry()
	exp := tracetest.NewInMemoryExporter()

	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		TraceExporter:  exp,
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordLead(context.Background(), "webhook", "ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "yeiya_leads") {
			found = true
		}
	}
	if !found {
		t.Error("lead counter not exposed through the Prometheus registry")
	}

	_, span := StartSpan(context.Background(), "probe")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(exp.GetSpans()) != 1 {
		t.Errorf("exported spans = %d, want 1 after shutdown flush", len(exp.GetSpans()))
	}
}

func TestInitProvider_InstallsPropagator(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := InitProvider(context.Background(), ProviderConfig{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer shutdown(context.Background())

	fields := otel.GetTextMapPropagator().Fields()
	has := map[string]bool{}
	for _, f := range fields {
		has[f] = true
	}
	if !has["traceparent"] || !has["baggage"] {
		t.Errorf("propagator fields = %v", fields)
	}
}

func TestInitProvider_RejectsBadSampleRatio(t *testing.T) {
	t.Parallel()

	if _, err := InitProvider(context.Background(), ProviderConfig{SampleRatio: 1.5}); err == nil {
		t.Fatal("expected an error for a ratio above 1")
	}
}
