package repository

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"attendance.edge/internal/core/model"
	"attendance.edge/pkg/database"
)

func newTestQueue(t *testing.T) *QueueRepository {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewQueueRepository(db, database.SQLite, "queue")
	if err := repo.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return repo
}

func samplePayload(employee string, logType model.LogType) model.CheckinPayload {
	return model.CheckinPayload{
		Employee:    employee,
		LogType:     logType,
		CheckinTime: time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC),
		Latitude:    12.9716,
		Longitude:   77.5946,
		Landmark:    "Gate 2",
		Status:      model.StatusPending,
		HOD:         "HR-EMP-0001",
	}
}

func TestQueueOpenIsIdempotent(t *testing.T) {
	repo := newTestQueue(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, samplePayload("EMP-1", model.LogTypeIn)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// A fresh repository over the same database must see the existing rows.
	again := NewQueueRepository(repo.DB, database.SQLite, "queue")
	if err := again.Open(ctx); err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	entries, err := again.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after reopening, got %d", len(entries))
	}
}

func TestQueueOpenUnavailable(t *testing.T) {
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.Close()

	repo := NewQueueRepository(db, database.SQLite, "queue")
	if err := repo.Open(context.Background()); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := repo.Enqueue(context.Background(), samplePayload("EMP-1", model.LogTypeIn)); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected Enqueue to surface ErrStorageUnavailable, got %v", err)
	}
}

func TestQueueEnqueueIsMonotonic(t *testing.T) {
	repo := newTestQueue(t)
	ctx := context.Background()

	first, err := repo.Enqueue(ctx, samplePayload("EMP-1", model.LogTypeIn))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.Remove(ctx, first); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// Ids are never reused, even after the highest one was deleted.
	second, err := repo.Enqueue(ctx, samplePayload("EMP-1", model.LogTypeOut))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if second <= first {
		t.Errorf("expected id greater than %d, got %d", first, second)
	}
}

func TestQueueListAllRoundTripsPayload(t *testing.T) {
	repo := newTestQueue(t)
	ctx := context.Background()

	payload := samplePayload("EMP-7", model.LogTypeOut)
	id, err := repo.Enqueue(ctx, payload)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	entries, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ID != id {
		t.Errorf("expected id %d, got %d", id, entries[0].ID)
	}
	if !reflect.DeepEqual(entries[0].Data, payload) {
		t.Errorf("payload mismatch:\n got %+v\nwant %+v", entries[0].Data, payload)
	}
}

func TestQueueRemoveUnknownIsNoop(t *testing.T) {
	repo := newTestQueue(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, samplePayload("EMP-1", model.LogTypeIn)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	before, _ := repo.ListAll(ctx)

	if err := repo.Remove(ctx, 9999); err != nil {
		t.Fatalf("Remove of unknown id returned error: %v", err)
	}

	after, _ := repo.ListAll(ctx)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("store changed after removing unknown id:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestQueueDeadLetter(t *testing.T) {
	repo := newTestQueue(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, samplePayload("EMP-3", model.LogTypeIn))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := repo.RecordFailure(ctx, id, "status 417")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d attempts, got %d", want, got)
		}
	}

	if got, _ := repo.RecordFailure(ctx, 4242, "boom"); got != 0 {
		t.Errorf("expected unknown entry to report 0 attempts, got %d", got)
	}

	if err := repo.MoveToDeadLetter(ctx, id, "status 417"); err != nil {
		t.Fatalf("MoveToDeadLetter failed: %v", err)
	}

	entries, _ := repo.ListAll(ctx)
	if len(entries) != 0 {
		t.Errorf("expected queue to be empty, got %d entries", len(entries))
	}

	dead, err := repo.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dead))
	}
	if dead[0].ID != id || dead[0].Attempts != 3 || dead[0].LastError != "status 417" {
		t.Errorf("unexpected dead letter %+v", dead[0])
	}
	if dead[0].Data.Employee != "EMP-3" {
		t.Errorf("expected payload to be preserved, got %+v", dead[0].Data)
	}
}
