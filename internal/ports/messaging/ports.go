package messaging

import (
	"context"
	"encoding/json"

	"attendance.edge/internal/core/model"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Publisher broadcasts a message to every open foreground context.
type Publisher interface {
	Publish(ctx context.Context, msg model.ClientMessage)
}

// Handler receives messages delivered to one foreground context.
type Handler func(msg model.ClientMessage)

// Subscriber is held by foreground contexts to receive broadcasts.
type Subscriber interface {
	Subscribe(url string, handler Handler) (Client, func())
}

// Client is one open foreground context.
type Client interface {
	ID() string
	URL() string
	Focus(ctx context.Context) error
	Post(msg model.ClientMessage)
}

// Clients enumerates open foreground contexts and can open a new one.
type Clients interface {
	MatchAll() []Client
	OpenWindow(ctx context.Context, url string) error
}

// TriggerProducer defines the output port for emitting sync triggers and pushes.
type TriggerProducer interface {
	PublishSync(ctx context.Context, tag string) error
	PublishPush(ctx context.Context, payload json.RawMessage) error
}

// MessageSender defines the interface for sending raw messages to a messaging system.
type MessageSender interface {
	SendMessage(ctx context.Context, destination string, body []byte) error
}

// SQSClient defines the interface for the AWS SQS client.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}
