package repository

import (
	"context"
	"errors"

	"attendance.edge/internal/core/model"
)

// ErrStorageUnavailable is returned when the underlying store cannot be opened.
var ErrStorageUnavailable = errors.New("queue storage unavailable")

// QueueStore is the durable queue of check-ins that have not reached the ERP yet.
// It is shared between the foreground submission path and the sync coordinator.
type QueueStore interface {
	Open(ctx context.Context) error
	Enqueue(ctx context.Context, payload model.CheckinPayload) (int64, error)
	ListAll(ctx context.Context) ([]model.QueueEntry, error)
	Remove(ctx context.Context, id int64) error
}

// DeadLetterStore is implemented by stores that can park entries which keep failing.
type DeadLetterStore interface {
	RecordFailure(ctx context.Context, id int64, reason string) (int, error)
	MoveToDeadLetter(ctx context.Context, id int64, reason string) error
	ListDeadLetters(ctx context.Context) ([]model.DeadLetter, error)
}
