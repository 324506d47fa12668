package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"attendance.edge/internal/config"
	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite" // Register pure Go sqlite driver
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqliteFile = "edge.db"
)

// NewInstrumentedConnection opens the store selected by cfg.QueueDriver with OpenTelemetry instrumentation.
func NewInstrumentedConnection(cfg config.Config) (*sql.DB, Dialect, error) {
	if cfg.QueueDriver == DriverPostgres {
		db, err := openPostgres(cfg)
		return db, Postgres, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, SQLite, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := OpenSQLite(filepath.Join(cfg.DataDir, sqliteFile))
	return db, SQLite, err
}

func openPostgres(cfg config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	// otelsql.Open wraps the driver to intercept queries and create spans
	db, err := otelsql.Open("pgx", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenSQLite opens (creating if needed) the sqlite file at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := otelsql.Open("sqlite", path,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}
