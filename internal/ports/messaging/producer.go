package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"attendance.edge/internal/core/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Producer publishes trigger envelopes onto the events queue.
type Producer struct {
	sender   MessageSender
	queueURL string
}

func NewProducer(sender MessageSender, queueURL string) *Producer {
	return &Producer{
		sender:   sender,
		queueURL: queueURL,
	}
}

func NewSQSProducer(client SQSClient, queueURL string) *Producer {
	return NewProducer(&SQSSender{client: client}, queueURL)
}

// PublishSync asks the edge to run the sync pass registered under tag.
func (p *Producer) PublishSync(ctx context.Context, tag string) error {
	return p.publish(ctx, NewSyncTrigger(tag))
}

// PublishPush hands a push payload to the notification dispatcher.
func (p *Producer) PublishPush(ctx context.Context, payload json.RawMessage) error {
	return p.publish(ctx, NewPushTrigger(payload))
}

func (p *Producer) publish(ctx context.Context, envelope model.TriggerEnvelope) error {
	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attribute.String("app.trigger", envelope.Kind))
	}

	if err := p.sender.SendMessage(ctx, p.queueURL, b); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
