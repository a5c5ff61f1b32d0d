package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgres opens a Postgres pool through the pgx stdlib driver and
// applies the schema.
func NewPostgres(ctx context.Context, connString string) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return open(ctx, db, postgresDialect)
}

// NewSQLite opens (creating if needed) a SQLite database file. Pass
// ":memory:" for a private in-process database.
func NewSQLite(ctx context.Context, path string) (*SQLStore, error) {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_fk=1&_busy_timeout=5000"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dsn = "file:" + path + "?_journal_mode=WAL&_fk=1&_busy_timeout=5000"
	}
	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent marks.
	db.SetMaxOpenConns(1)
	return open(ctx, db, sqliteDialect)
}

func open(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	s := &SQLStore{db: db, d: d}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.name, err)
	}
	return s, nil
}

// Open selects a backend by name: "memory", "postgres" or "sqlite".
func Open(ctx context.Context, backend, databaseURL, sqlitePath string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(ctx, databaseURL)
	case "sqlite":
		return NewSQLite(ctx, sqlitePath)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}
