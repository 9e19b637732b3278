package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// middlewareEnv swaps the otel globals for in-memory ones. Tests using it
// must not run in parallel.
func middlewareEnv(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP, origProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
	})
	return m, reader, exp
}

func routed(m *Metrics, status int) http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/leads/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) })
	r.Post("/api/chat", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) })
	return r
}

func TestMiddleware_TraceHeader(t *testing.T) {
	m, _, _ := middlewareEnv(t)

	var inHandler string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = TraceID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if len(inHandler) != 32 {
		t.Fatalf("trace ID in handler = %q", inHandler)
	}
	if got := rec.Header().Get(TraceHeader); got != inHandler {
		t.Errorf("%s = %q, want %q", TraceHeader, got, inHandler)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("trace context not injected into the response")
	}
}

func TestMiddleware_HonoursIncomingTraceparent(t *testing.T) {
	m, _, _ := middlewareEnv(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	routed(m, http.StatusOK).ServeHTTP(rec, req)

	if got := rec.Header().Get(TraceHeader); got != traceID {
		t.Errorf("%s = %q, want %q", TraceHeader, got, traceID)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	m, _, exp := middlewareEnv(t)

	routed(m, http.StatusOK).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/leads/42", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /leads/{id}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var route string
	var status int64
	for _, a := range spans[0].Attributes {
		switch string(a.Key) {
		case "http.route":
			route = a.Value.AsString()
		case "http.response.status_code":
			status = a.Value.AsInt64()
		}
	}
	if route != "/leads/{id}" || status != 200 {
		t.Errorf("attributes route=%q status=%d", route, status)
	}
}

func TestMiddleware_ServerErrorFailsSpan(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   codes.Code
	}{
		{"ok", http.StatusOK, codes.Unset},
		{"client error", http.StatusBadRequest, codes.Unset},
		{"server error", http.StatusInternalServerError, codes.Error},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _, exp := middlewareEnv(t)
			rec := httptest.NewRecorder()
			routed(m, tc.status).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}
			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d", len(spans))
			}
			if spans[0].Status.Code != tc.want {
				t.Errorf("span status = %v, want %v", spans[0].Status.Code, tc.want)
			}
		})
	}
}

func TestMiddleware_DurationByRoutePattern(t *testing.T) {
	m, reader, _ := middlewareEnv(t)

	h := routed(m, http.StatusOK)
	for _, id := range []string{"a", "b", "c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/leads/"+id, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "yeiya.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 (one route pattern)", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("count = %d, want 3", dp.Count)
	}
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "/leads/{id}" {
		t.Errorf("path = %q", v.AsString())
	}
	if v, _ := dp.Attributes.Value("method"); v.AsString() != "GET" {
		t.Errorf("method = %q", v.AsString())
	}
}

func TestStatusRecorder(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}
	if sr.Unwrap() != rec {
		t.Error("Unwrap did not return the wrapped writer")
	}
	sr.WriteHeader(http.StatusTeapot)
	if sr.statusCode != http.StatusTeapot || rec.Code != http.StatusTeapot {
		t.Errorf("recorded %d, wrote %d", sr.statusCode, rec.Code)
	}
	if _, _, err := sr.Hijack(); err == nil {
		t.Error("expected hijack error from a non-hijackable writer")
	}
}
