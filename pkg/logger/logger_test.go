package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestEnrichContextWithLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(false, &buf)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	defer span.End()

	ctx = EnrichContextWithLogger(ctx)
	log.Ctx(ctx).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("expected trace_id %s, got %v", span.SpanContext().TraceID(), line["trace_id"])
	}
	if line["message"] != "hello" {
		t.Errorf("unexpected message %v", line["message"])
	}
}

func TestEnrichContextWithoutSpan(t *testing.T) {
	ctx := context.Background()
	if got := EnrichContextWithLogger(ctx); got != ctx {
		t.Error("expected context without a recording span to be returned unchanged")
	}
}
