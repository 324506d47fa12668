package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/fortytw2/leaktest"
)

// fakeSQS hands out its messages on the first receive and then long-polls until cancelled.
type fakeSQS struct {
	mu       sync.Mutex
	messages []types.Message
	deleted  []string
	retried  map[string]int32
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.messages
	f.messages = nil
	f.mu.Unlock()

	if len(msgs) > 0 {
		return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *params.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retried == nil {
		f.retried = map[string]int32{}
	}
	f.retried[*params.ReceiptHandle] = params.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

// scriptedProcessor decides the outcome from the message body.
type scriptedProcessor struct {
	wg sync.WaitGroup
}

func (p *scriptedProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	defer p.wg.Done()
	switch *msg.Body {
	case "retry":
		return true, 30, errors.New("try later")
	case "poison":
		return false, 0, errors.New("bad message")
	default:
		return false, 0, nil
	}
}

func TestWorkerDeletesOrRetries(t *testing.T) {
	defer leaktest.Check(t)()

	client := &fakeSQS{messages: []types.Message{
		{Body: aws.String("ok"), ReceiptHandle: aws.String("r-ok")},
		{Body: aws.String("retry"), ReceiptHandle: aws.String("r-retry")},
		{Body: aws.String("poison"), ReceiptHandle: aws.String("r-poison")},
	}}
	proc := &scriptedProcessor{}
	proc.wg.Add(3)

	w := NewWorker(client, "http://localhost:4566/000000000000/edge-events", proc)
	w.Concurrency = 2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	proc.wg.Wait()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.deleted) != 2 {
		t.Errorf("expected ok and poison messages deleted, got %v", client.deleted)
	}
	if client.retried["r-retry"] != 30 {
		t.Errorf("expected retry message to get a 30s visibility timeout, got %v", client.retried)
	}
	for _, h := range client.deleted {
		if h == "r-retry" {
			t.Error("retried message must not be deleted")
		}
	}
}
