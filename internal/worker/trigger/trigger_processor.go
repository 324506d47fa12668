package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"attendance.edge/internal/core"
	"attendance.edge/internal/core/model"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// SyncHandler runs a sync pass for a trigger tag.
type SyncHandler interface {
	HandleSync(ctx context.Context, tag string) (*model.SyncReport, error)
}

// PushHandler shows a notification for a raw push payload.
type PushHandler interface {
	HandlePush(ctx context.Context, raw []byte) model.Notification
}

// TriggerProcessor handles messages from the events queue: sync triggers and push payloads.
type TriggerProcessor struct {
	sync SyncHandler
	push PushHandler
}

// NewProcessor creates a processor routing sync envelopes to syncer and push envelopes to pusher.
func NewProcessor(syncer SyncHandler, pusher PushHandler) *TriggerProcessor {
	return &TriggerProcessor{sync: syncer, push: pusher}
}

// Process decodes the envelope and hands it to the matching handler.
// A sync pass that could not read the queue is retried with backoff; everything else is final.
func (p *TriggerProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	if msg.Body == nil {
		return false, 0, errors.New("empty message body")
	}

	var env model.TriggerEnvelope
	if err := json.Unmarshal([]byte(*msg.Body), &env); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal trigger envelope")
		return false, 0, err // Do not retry on malformed message
	}

	switch env.Kind {
	case model.TriggerSync:
		report, err := p.sync.HandleSync(ctx, env.Tag)
		if errors.Is(err, core.ErrUnknownSyncTag) {
			log.Ctx(ctx).Info().Str("tag", env.Tag).Msg("Sync tag not handled here. Skipping.")
			return false, 0, nil
		}
		if err != nil {
			return true, calculateBackoff(receiveCount(msg)), err
		}
		log.Ctx(ctx).Info().Int("delivered", report.Delivered).Int("failed", report.Failed).Msg("Sync trigger processed")
		return false, 0, nil

	case model.TriggerPush:
		p.push.HandlePush(ctx, env.Payload)
		return false, 0, nil

	default:
		return false, 0, fmt.Errorf("unknown trigger kind %q", env.Kind)
	}
}

func receiveCount(msg types.Message) int {
	n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// calculateBackoff determines how long to wait before retrying a failed job.
// It increases the delay exponentially with each retry to avoid overwhelming a struggling service.
func calculateBackoff(retryCount int) int32 {
	backoff := math.Pow(2, float64(retryCount)) * 10
	if backoff > 3600 { // Cap at 1 hour
		return 3600
	}
	return int32(backoff)
}
