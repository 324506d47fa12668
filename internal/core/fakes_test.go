package core

import (
	"context"
	"errors"
	"sync"

	"attendance.edge/internal/core/model"
	"attendance.edge/internal/ports/messaging"
)

// memoryQueue is an in-memory QueueStore + DeadLetterStore.
type memoryQueue struct {
	mu       sync.Mutex
	nextID   int64
	entries  []model.QueueEntry
	attempts map[int64]int
	dead     []model.DeadLetter
	listErr  error
	enqErr   error
	removed  []int64
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{attempts: map[int64]int{}}
}

func (q *memoryQueue) Open(ctx context.Context) error { return nil }

func (q *memoryQueue) Enqueue(ctx context.Context, payload model.CheckinPayload) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqErr != nil {
		return 0, q.enqErr
	}
	q.nextID++
	q.entries = append(q.entries, model.QueueEntry{ID: q.nextID, Data: payload})
	return q.nextID, nil
}

func (q *memoryQueue) ListAll(ctx context.Context) ([]model.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listErr != nil {
		return nil, q.listErr
	}
	return append([]model.QueueEntry{}, q.entries...), nil
}

func (q *memoryQueue) Remove(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, id)
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *memoryQueue) RecordFailure(ctx context.Context, id int64, reason string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts[id]++
	return q.attempts[id], nil
}

func (q *memoryQueue) MoveToDeadLetter(ctx context.Context, id int64, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ID == id {
			q.dead = append(q.dead, model.DeadLetter{ID: id, Data: e.Data, Attempts: q.attempts[id], LastError: reason})
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *memoryQueue) ListDeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.DeadLetter{}, q.dead...), nil
}

// plainQueue hides the dead-letter methods of memoryQueue.
type plainQueue struct{ q *memoryQueue }

func (p plainQueue) Open(ctx context.Context) error { return nil }
func (p plainQueue) Enqueue(ctx context.Context, payload model.CheckinPayload) (int64, error) {
	return p.q.Enqueue(ctx, payload)
}
func (p plainQueue) ListAll(ctx context.Context) ([]model.QueueEntry, error) { return p.q.ListAll(ctx) }
func (p plainQueue) Remove(ctx context.Context, id int64) error          { return p.q.Remove(ctx, id) }

// scriptedDeliverer fails for the employees listed in failFor.
type scriptedDeliverer struct {
	mu      sync.Mutex
	failFor map[string]error
	calls   []model.CheckinPayload
}

func (d *scriptedDeliverer) Deliver(ctx context.Context, payload model.CheckinPayload) (*model.Checkin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, payload)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := d.failFor[payload.Employee]; ok {
		return nil, err
	}
	return &model.Checkin{Name: "MC-" + payload.Employee, Employee: payload.Employee, Status: payload.Status}, nil
}

var errERPDown = errors.New("erp returned non-successful status code: 500")

// recordingPublisher remembers every broadcast.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []model.ClientMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, msg model.ClientMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Type)
	}
	return out
}

var _ messaging.Publisher = (*recordingPublisher)(nil)

func checkin(employee string) model.CheckinPayload {
	return model.CheckinPayload{
		Employee:  employee,
		LogType:   model.LogTypeIn,
		Latitude:  12.97,
		Longitude: 77.59,
		Status:    model.StatusPending,
	}
}
