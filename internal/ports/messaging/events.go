package messaging

import (
	"encoding/json"

	"attendance.edge/internal/core/model"
)

// NewSyncTrigger builds the events-queue envelope for a sync request.
func NewSyncTrigger(tag string) model.TriggerEnvelope {
	return model.TriggerEnvelope{Kind: model.TriggerSync, Tag: tag}
}

// NewPushTrigger builds the events-queue envelope carrying a raw push payload.
func NewPushTrigger(payload json.RawMessage) model.TriggerEnvelope {
	return model.TriggerEnvelope{Kind: model.TriggerPush, Payload: payload}
}
