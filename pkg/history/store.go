// Package history is the durable record of which works were already
// fetched. It is the source of truth for "already have this"; the
// manifest log is the audit trail it can be rebuilt from.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"douget/pkg/logger"
)

// Status values recorded per work id
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// ErrStoreWrite marks a dedup store write failure. Durability is a
// correctness requirement, so callers treat it as fatal for the run.
var ErrStoreWrite = errors.New("history store write failed")

// Record is one persisted dedup entry
type Record struct {
	AwemeID     string
	FirstSeenAt time.Time
	LastStatus  string
	UpdatedAt   time.Time
}

// Store is a SQLite-backed dedup store. Opened once per run, closed on
// exit; writes are serialized by SQLite, reads may run concurrently.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS awemes (
	aweme_id      TEXT PRIMARY KEY,
	first_seen_at TIMESTAMP NOT NULL,
	last_status   TEXT NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);`

// Open opens (creating if needed) the store at path
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Has reports whether the id was already fetched successfully
func (s *Store) Has(ctx context.Context, awemeID string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_status FROM awemes WHERE aweme_id = ?`, awemeID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query aweme %s: %w", awemeID, err)
	}
	return status == StatusSuccess, nil
}

// Get returns the record for an id, or nil when absent
func (s *Store) Get(ctx context.Context, awemeID string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT aweme_id, first_seen_at, last_status, updated_at FROM awemes WHERE aweme_id = ?`,
		awemeID).Scan(&rec.AwemeID, &rec.FirstSeenAt, &rec.LastStatus, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query aweme %s: %w", awemeID, err)
	}
	return &rec, nil
}

// RecordOutcome upserts the record for an id. The upsert is a single
// statement, so readers never observe a half-written record.
func (s *Store) RecordOutcome(ctx context.Context, awemeID, status string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO awemes (aweme_id, first_seen_at, last_status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(aweme_id) DO UPDATE SET
			last_status = excluded.last_status,
			updated_at  = excluded.updated_at`,
		awemeID, at, status, at)
	if err != nil {
		return fmt.Errorf("%w: record outcome for %s: %v", ErrStoreWrite, awemeID, err)
	}
	return nil
}

// BulkFilter returns only the ids not already fetched successfully.
// The whole check runs in one read transaction, so an id cannot be both
// filtered out and re-dispatched within a run.
func (s *Store) BulkFilter(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin bulk filter tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`SELECT 1 FROM awemes WHERE aweme_id = ? AND last_status = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare bulk filter: %w", err)
	}
	defer stmt.Close()

	var remaining []string
	for _, id := range ids {
		var one int
		err := stmt.QueryRowContext(ctx, id, StatusSuccess).Scan(&one)
		if err == sql.ErrNoRows {
			remaining = append(remaining, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("bulk filter %s: %w", id, err)
		}
	}

	return remaining, nil
}

// Count returns the number of records, optionally filtered by status
func (s *Store) Count(ctx context.Context, status string) (int, error) {
	var n int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM awemes`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM awemes WHERE last_status = ?`, status).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
