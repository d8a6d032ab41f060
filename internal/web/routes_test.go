package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRoutesStartSpanPerRequest(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	handler := newTestHandler(&scriptedCeremonies{}, nil)
	routes := handler.Routes()

	response := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/auth/logout", strings.NewReader(`{}`))
	routes.ServeHTTP(response, request)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if name := spans[0].Name(); name != "POST /auth/logout" {
		t.Fatalf("span name = %q, want route-shaped name", name)
	}
}
