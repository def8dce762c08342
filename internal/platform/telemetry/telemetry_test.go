package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	c := Config{SampleRate: 3}
	c.applyDefaults()
	if c.ServiceName != "clinote-server" {
		t.Errorf("expected default service name, got %s", c.ServiceName)
	}
	if c.SampleRate != 1 {
		t.Errorf("expected sample rate clamped to 1, got %v", c.SampleRate)
	}
}

func TestSetup_NoEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_RecordsSpan(t *testing.T) {
	sr, tp := newRecorder()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/encounters/abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/encounters/:id")
	c.Set("request_id", "req-1")

	h := Middleware(tp, nil)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /api/encounters/:id" {
		t.Errorf("unexpected span name %q", span.Name())
	}
	if v, ok := attrValue(span.Attributes(), "http.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("expected status attribute 200, got %v", v)
	}
	if v, ok := attrValue(span.Attributes(), "request.id"); !ok || v.AsString() != "req-1" {
		t.Errorf("expected request id attribute, got %v", v)
	}
}

func TestMiddleware_MarksServerErrors(t *testing.T) {
	sr, tp := newRecorder()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/ai/generate-note", nil), httptest.NewRecorder())
	c.SetPath("/api/ai/generate-note")

	h := Middleware(tp, nil)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream failed")
	})
	_ = h(c)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status().Code)
	}
}

func TestRecordError(t *testing.T) {
	sr, tp := newRecorder()
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	span.End()

	got := sr.Ended()[0]
	if got.Status().Code != codes.Error || got.Status().Description != "boom" {
		t.Errorf("unexpected status %+v", got.Status())
	}
}
