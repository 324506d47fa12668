// Package cache persists named generations of HTTP responses for the app shell.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"attendance.edge/pkg/database"
)

// ErrNotFound is returned when no generation holds a response for the key.
var ErrNotFound = errors.New("no cached response")

// Response is a stored snapshot of an upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Item pairs a key with the response to store under it.
type Item struct {
	Key      string
	Response *Response
}

// Storage holds every cache generation in one SQL database.
type Storage struct {
	db      *sql.DB
	dialect database.Dialect

	mu    sync.Mutex
	ready bool
}

// NewStorage returns a Storage on db. Tables are created lazily.
func NewStorage(db *sql.DB, dialect database.Dialect) *Storage {
	return &Storage{db: db, dialect: dialect}
}

func (s *Storage) init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	schema := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cache_generations (
			seq %s,
			name TEXT NOT NULL UNIQUE
		)`, s.dialect.AutoID),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cache_entries (
			generation TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			status INTEGER NOT NULL,
			header TEXT NOT NULL,
			body %s NOT NULL,
			stored_at BIGINT NOT NULL,
			PRIMARY KEY (generation, cache_key)
		)`, s.dialect.Blob),
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create cache tables: %w", err)
		}
	}
	s.ready = true
	return nil
}

// Open returns the named generation, creating it if it does not exist.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	query := s.dialect.Rebind(`INSERT INTO cache_generations (name) VALUES (?) ON CONFLICT (name) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, name); err != nil {
		return nil, fmt.Errorf("failed to open cache %q: %w", name, err)
	}
	return &Cache{storage: s, name: name}, nil
}

// Keys lists generation names in creation order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_generations ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete drops a generation and all of its entries. It reports whether the generation existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	if err := s.init(ctx); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM cache_entries WHERE generation = ?`), name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM cache_generations WHERE name = ?`), name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// Match looks key up in every generation, oldest generation first.
func (s *Storage) Match(ctx context.Context, key string) (*Response, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	query := s.dialect.Rebind(`SELECT e.status, e.header, e.body
		FROM cache_entries e JOIN cache_generations g ON g.name = e.generation
		WHERE e.cache_key = ? ORDER BY g.seq LIMIT 1`)
	return scanResponse(s.db.QueryRowContext(ctx, query, key))
}

// Cache is a single named generation.
type Cache struct {
	storage *Storage
	name    string
}

// Name returns the generation name.
func (c *Cache) Name() string {
	return c.name
}

// Put stores resp under key, superseding any earlier entry.
func (c *Cache) Put(ctx context.Context, key string, resp *Response) error {
	return c.PutAll(ctx, []Item{{Key: key, Response: resp}})
}

// PutAll stores every item in a single transaction: either all land or none do.
func (c *Cache) PutAll(ctx context.Context, items []Item) error {
	db, dialect := c.storage.db, c.storage.dialect

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := dialect.Rebind(`INSERT INTO cache_entries (generation, cache_key, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (generation, cache_key) DO UPDATE SET
			status = excluded.status, header = excluded.header, body = excluded.body, stored_at = excluded.stored_at`)
	now := time.Now().UnixMilli()
	for _, item := range items {
		header, err := json.Marshal(item.Response.Header)
		if err != nil {
			return fmt.Errorf("failed to encode headers for %s: %w", item.Key, err)
		}
		body := item.Response.Body
		if body == nil {
			body = []byte{}
		}
		if _, err := tx.ExecContext(ctx, query, c.name, item.Key, item.Response.Status, string(header), body, now); err != nil {
			return fmt.Errorf("failed to cache %s: %w", item.Key, err)
		}
	}
	return tx.Commit()
}

// Match returns the entry stored under key in this generation.
func (c *Cache) Match(ctx context.Context, key string) (*Response, error) {
	query := c.storage.dialect.Rebind(`SELECT status, header, body FROM cache_entries WHERE generation = ? AND cache_key = ?`)
	return scanResponse(c.storage.db.QueryRowContext(ctx, query, c.name, key))
}

func scanResponse(row *sql.Row) (*Response, error) {
	var (
		resp   Response
		header string
	)
	if err := row.Scan(&resp.Status, &header, &resp.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("corrupt cached headers: %w", err)
	}
	return &resp, nil
}
