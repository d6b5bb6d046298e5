// Package sqlite implements the persistence gateway on an embedded SQLite
// file. The process holds a single writer connection; analytical consumers
// open their own read-only handles against the same file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// timeLayout is fixed-width so stored timestamps order lexically in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Store owns the writer connection and hands out scoped repositories.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens (creating if needed) the database at path with write-ahead
// logging enabled and bootstraps the schema idempotently.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; external readers use their own read-only handles.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Store opened")
	return s, nil
}

// NewFromDB wraps an existing connection; used by tests.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for bootstrap tooling.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the writer connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Repository returns the read-side repositories backed by this store.
func (s *Store) Repository() *persistence.Repository {
	return &persistence.Repository{
		Catalog:    &catalogRepo{db: s.db},
		Raw:        &rawRepo{db: s.db},
		Watermarks: &watermarkRepo{db: s.db},
	}
}

// RunInTx runs fn in a single transaction, rolling back on error or panic.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx persistence.Txn) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &txn{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", persistence.ErrStorageFailure, op, err)
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*p), Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
