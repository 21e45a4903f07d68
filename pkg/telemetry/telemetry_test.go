package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Disable: true})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		Exporter:    ExporterStdout,
		Environment: "test",
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, span := Tracer("telemetry_test").Start(context.Background(), "answer")
	End(span, nil)
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"Name":"answer"`)) {
		t.Fatalf("expected exported span, got %s", buf.String())
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if _, err := Init(context.Background(), Config{Exporter: "zipkin"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
	if _, err := Init(context.Background(), Config{Exporter: ExporterOTLP}); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
}

func TestEndRecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, span := tp.Tracer("t").Start(context.Background(), "step")
	End(span, errors.New("boom"))
	End(nil, nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Status().Description != "boom" || len(spans[0].Events()) != 1 {
		t.Fatalf("expected error status and event, got %+v", spans[0].Status())
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != "AlwaysOnSampler" {
		t.Fatalf("unexpected sampler %q", got)
	}
	if got := sampler(0.5).Description(); got == "AlwaysOnSampler" {
		t.Fatal("expected ratio sampler")
	}
}
