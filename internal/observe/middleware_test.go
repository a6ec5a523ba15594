package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumentedMux serves a small fleet-like mux through Middleware with
// in-memory metric and span exporters. The global tracer provider is
// swapped for the duration of the test, so callers must not run in
// parallel.
func instrumentedMux(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
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
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /workers/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "ghost" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
	})
	return Middleware(m)(mux), reader, exp
}

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Spans(t *testing.T) {
	h, _, exp := instrumentedMux(t)

	tests := []struct {
		path       string
		wantName   string
		wantStatus int64
	}{
		{path: "/workers/relay-a", wantName: "HTTP GET /workers/{id}", wantStatus: 200},
		{path: "/workers/ghost", wantName: "HTTP GET /workers/{id}", wantStatus: 404},
		{path: "/readyz", wantName: "HTTP GET /readyz", wantStatus: 503},
		{path: "/nowhere", wantName: "HTTP GET /nowhere", wantStatus: 404},
	}
	for _, tt := range tests {
		exp.Reset()
		serve(h, tt.path, nil)

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s: %d spans, want 1", tt.path, len(spans))
		}
		if spans[0].Name != tt.wantName {
			t.Errorf("%s: span name = %q, want %q", tt.path, spans[0].Name, tt.wantName)
		}
		var status int64
		for _, a := range spans[0].Attributes {
			if a.Key == "http.response.status_code" {
				status = a.Value.AsInt64()
			}
		}
		if status != tt.wantStatus {
			t.Errorf("%s: span status attribute = %d, want %d", tt.path, status, tt.wantStatus)
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := instrumentedMux(t)

	t.Run("generated", func(t *testing.T) {
		rec := serve(h, "/workers/a", nil)
		cid := rec.Header().Get(CorrelationHeader)
		if len(cid) != 32 {
			t.Fatalf("%s = %q, want a 32 character trace id", CorrelationHeader, cid)
		}
		if seen := rec.Header().Get("X-Seen-Correlation"); seen != cid {
			t.Errorf("handler saw %q, response carries %q", seen, cid)
		}
	})

	t.Run("continued from traceparent", func(t *testing.T) {
		const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		rec := serve(h, "/workers/a", http.Header{
			"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
		})
		if got := rec.Header().Get(CorrelationHeader); got != traceID {
			t.Errorf("%s = %q, want %q", CorrelationHeader, got, traceID)
		}
	})
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	h, reader, _ := instrumentedMux(t)
	for _, p := range []string{"/workers/a", "/workers/b", "/workers/ghost", "/readyz"} {
		serve(h, p, nil)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "starcommander.http.request.duration")
	if met == nil {
		t.Fatal("starcommander.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want histogram", met.Data)
	}

	counts := map[[2]string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value(attribute.Key("path"))
		class, _ := dp.Attributes.Value(attribute.Key("status_class"))
		counts[[2]string{path.AsString(), class.AsString()}] += dp.Count
	}
	want := map[[2]string]uint64{
		{"/workers/{id}", "2xx"}: 2,
		{"/workers/{id}", "4xx"}: 1,
		{"/readyz", "5xx"}:       1,
	}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want %v", counts, want)
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("%v: count = %d, want %d", k, counts[k], n)
		}
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	tests := map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 0: "other", 999: "other"}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
