package telemetry

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTraceContextRoundTripsThroughSQSAttributes(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	otel.SetTracerProvider(tp)

	ctx, parent := tp.Tracer("test").Start(context.Background(), "publish")
	defer parent.End()

	attrs := InjectTraceContext(ctx)
	if _, ok := attrs["traceparent"]; !ok {
		t.Fatalf("expected traceparent attribute, got %v", attrs)
	}

	msg := types.Message{
		MessageId:         aws.String("m-1"),
		Body:              aws.String(`{"kind":"sync","tag":"sync-checkins"}`),
		MessageAttributes: attrs,
	}
	_, span := StartSpanFromSQSMessage(context.Background(), msg)
	defer span.End()

	if got, want := span.SpanContext().TraceID(), parent.SpanContext().TraceID(); got != want {
		t.Errorf("expected consumer span to continue trace %s, got %s", want, got)
	}
}

func TestInitTracerNone(t *testing.T) {
	shutdown, err := InitTracer("edge-test", ExporterNone, "")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
