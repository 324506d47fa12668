package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance.edge/internal/core/model"
	"attendance.edge/pkg/database"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QueueRepository is the SQL implementation of QueueStore and DeadLetterStore.
// Each operation is its own short transaction; callers get no combined snapshot.
type QueueRepository struct {
	DB      *sql.DB
	dialect database.Dialect
	table   string

	mu    sync.Mutex
	ready bool
}

// NewQueueRepository creates a queue backed by table (plus its _attempts and _dead side tables).
func NewQueueRepository(db *sql.DB, dialect database.Dialect, table string) *QueueRepository {
	return &QueueRepository{DB: db, dialect: dialect, table: table}
}

// Open creates the queue tables on first use. It is safe to call repeatedly.
func (r *QueueRepository) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return nil
	}
	if r.DB == nil {
		return ErrStorageUnavailable
	}
	if err := r.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	schema := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s,
			data TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`, r.table, r.dialect.AutoID),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_attempts (
			entry_id BIGINT PRIMARY KEY,
			attempts INTEGER NOT NULL,
			last_error TEXT NOT NULL
		)`, r.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_dead (
			id BIGINT PRIMARY KEY,
			data TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT NOT NULL,
			failed_at BIGINT NOT NULL
		)`, r.table),
	}
	for _, stmt := range schema {
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	r.ready = true
	return nil
}

// Enqueue stores payload and returns the id the store assigned to it.
func (r *QueueRepository) Enqueue(ctx context.Context, payload model.CheckinPayload) (int64, error) {
	if err := r.Open(ctx); err != nil {
		return 0, err
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.employeeId", payload.Employee))

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	var id int64
	query := r.dialect.Rebind(fmt.Sprintf(`INSERT INTO %s (data, created_at) VALUES (?, ?) RETURNING id`, r.table))
	if err := r.DB.QueryRowContext(ctx, query, string(data), time.Now().UnixMilli()).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to enqueue check-in: %w", err)
	}

	return id, nil
}

// ListAll returns every pending entry in enqueue order.
func (r *QueueRepository) ListAll(ctx context.Context) ([]model.QueueEntry, error) {
	if err := r.Open(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data, created_at FROM %s ORDER BY id`, r.table)
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	entries := []model.QueueEntry{}
	for rows.Next() {
		var (
			entry     model.QueueEntry
			data      string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &data, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
			return nil, fmt.Errorf("corrupt queue entry %d: %w", entry.ID, err)
		}
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Remove deletes the entry with id. Removing an unknown id is not an error.
func (r *QueueRepository) Remove(ctx context.Context, id int64) error {
	if err := r.Open(ctx); err != nil {
		return err
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, r.table)), id); err != nil {
			return fmt.Errorf("failed to remove entry %d: %w", id, err)
		}
		_, err := tx.ExecContext(ctx, r.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s_attempts WHERE entry_id = ?`, r.table)), id)
		return err
	})
}

// RecordFailure bumps the failed-attempt counter of a pending entry and returns the new count.
// The entry itself is left untouched. Unknown ids report zero attempts.
func (r *QueueRepository) RecordFailure(ctx context.Context, id int64, reason string) (int, error) {
	if err := r.Open(ctx); err != nil {
		return 0, err
	}

	var attempts int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, r.dialect.Rebind(fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, r.table)), id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		upsert := fmt.Sprintf(`INSERT INTO %[1]s_attempts (entry_id, attempts, last_error) VALUES (?, 1, ?)
			ON CONFLICT (entry_id) DO UPDATE SET attempts = %[1]s_attempts.attempts + 1, last_error = excluded.last_error
			RETURNING attempts`, r.table)
		return tx.QueryRowContext(ctx, r.dialect.Rebind(upsert), id, reason).Scan(&attempts)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt for entry %d: %w", id, err)
	}

	return attempts, nil
}

// MoveToDeadLetter parks the entry in the dead-letter table and drops it from the queue.
func (r *QueueRepository) MoveToDeadLetter(ctx context.Context, id int64, reason string) error {
	if err := r.Open(ctx); err != nil {
		return err
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var data string
		err := tx.QueryRowContext(ctx, r.dialect.Rebind(fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, r.table)), id).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		var attempts int
		err = tx.QueryRowContext(ctx, r.dialect.Rebind(fmt.Sprintf(`SELECT attempts FROM %s_attempts WHERE entry_id = ?`, r.table)), id).Scan(&attempts)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		insert := fmt.Sprintf(`INSERT INTO %s_dead (id, data, attempts, last_error, failed_at) VALUES (?, ?, ?, ?, ?)`, r.table)
		if _, err := tx.ExecContext(ctx, r.dialect.Rebind(insert), id, data, attempts, reason, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to dead-letter entry %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, r.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, r.table)), id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, r.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s_attempts WHERE entry_id = ?`, r.table)), id)
		return err
	})
}

// ListDeadLetters returns the parked entries, oldest id first.
func (r *QueueRepository) ListDeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	if err := r.Open(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data, attempts, last_error, failed_at FROM %s_dead ORDER BY id`, r.table)
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	dead := []model.DeadLetter{}
	for rows.Next() {
		var (
			d        model.DeadLetter
			data     string
			failedAt int64
		)
		if err := rows.Scan(&d.ID, &data, &d.Attempts, &d.LastError, &failedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &d.Data); err != nil {
			return nil, fmt.Errorf("corrupt dead letter %d: %w", d.ID, err)
		}
		d.FailedAt = time.UnixMilli(failedAt).UTC()
		dead = append(dead, d)
	}

	return dead, rows.Err()
}

func (r *QueueRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
