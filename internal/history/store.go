// Package history journals queries and imports in a host-owned SQLite
// database, separate from the worker's own database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Query statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// QueryRecord is one completed streaming query.
type QueryRecord struct {
	ID            string `json:"id"`
	Talker        string `json:"talker"`
	Question      string `json:"question"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	ProgressCount int    `json:"progress_count"`
	StartedAt     string `json:"started_at"`
	DurationMS    int64  `json:"duration_ms"`
}

// ImportRecord is one completed import.
type ImportRecord struct {
	ID           string `json:"id"`
	File         string `json:"file"`
	Checksum     string `json:"checksum"`
	TalkerID     string `json:"talker_id"`
	MessageCount int    `json:"message_count"`
	ImportedAt   string `json:"imported_at"`
}

// Store wraps the journal database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path and ensures its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS query_history (
  id             TEXT PRIMARY KEY,
  talker         TEXT NOT NULL,
  question       TEXT NOT NULL,
  status         TEXT NOT NULL,
  error          TEXT,
  progress_count INTEGER NOT NULL DEFAULT 0,
  started_at     TEXT NOT NULL,
  duration_ms    INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_query_history_started ON query_history(started_at)`,
		`CREATE TABLE IF NOT EXISTS import_history (
  id            TEXT PRIMARY KEY,
  file          TEXT NOT NULL,
  checksum      TEXT NOT NULL,
  talker_id     TEXT NOT NULL,
  message_count INTEGER NOT NULL DEFAULT 0,
  imported_at   TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_import_history_checksum ON import_history(checksum)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap history schema: %w", err)
		}
	}
	return nil
}

// Close closes the journal.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordQuery inserts a completed query. Assigns rec.ID and rec.StartedAt
// when unset.
func (s *Store) RecordQuery(ctx context.Context, rec *QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt == "" {
		rec.StartedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (id, talker, question, status, error, progress_count, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Talker, rec.Question, rec.Status, rec.Error, rec.ProgressCount, rec.StartedAt, rec.DurationMS)
	if err != nil {
		return fmt.Errorf("record query: %w", err)
	}
	return nil
}

// RecentQueries returns the newest queries first, at most limit rows.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, talker, question, status, COALESCE(error, ''), progress_count, started_at, duration_ms
		 FROM query_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent queries: %w", err)
	}
	defer rows.Close()

	var out []QueryRecord
	for rows.Next() {
		var rec QueryRecord
		if err := rows.Scan(&rec.ID, &rec.Talker, &rec.Question, &rec.Status, &rec.Error,
			&rec.ProgressCount, &rec.StartedAt, &rec.DurationMS); err != nil {
			return nil, fmt.Errorf("scan query record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordImport inserts a completed import. Assigns rec.ID and rec.ImportedAt
// when unset.
func (s *Store) RecordImport(ctx context.Context, rec *ImportRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ImportedAt == "" {
		rec.ImportedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_history (id, file, checksum, talker_id, message_count, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.File, rec.Checksum, rec.TalkerID, rec.MessageCount, rec.ImportedAt)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return nil
}

// FindImportByChecksum returns the most recent import with this checksum, or
// nil when the file has never been imported.
func (s *Store) FindImportByChecksum(ctx context.Context, checksum string) (*ImportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file, checksum, talker_id, message_count, imported_at
		 FROM import_history WHERE checksum = ? ORDER BY imported_at DESC LIMIT 1`, checksum)

	var rec ImportRecord
	err := row.Scan(&rec.ID, &rec.File, &rec.Checksum, &rec.TalkerID, &rec.MessageCount, &rec.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find import: %w", err)
	}
	return &rec, nil
}
