package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	appmw "github.com/s1natex/todo-api-GO/internal/middleware"
)

func TestTracingMiddleware_RecordsRouteSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := chi.NewRouter()
	r.Use(appmw.TracingMiddleware)
	r.Get("/api/todos/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/todos/3", nil))

	if rec.Header().Get("Trace-Id") == "" {
		t.Fatalf("expected Trace-Id response header")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /api/todos/{id}" {
		t.Fatalf("unexpected span name %q", spans[0].Name)
	}
	if got := spans[0].SpanContext.TraceID().String(); got != rec.Header().Get("Trace-Id") {
		t.Fatalf("Trace-Id header %q does not match span %q", rec.Header().Get("Trace-Id"), got)
	}
}
