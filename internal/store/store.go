package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/trendpost/internal/types"
)

// DBFileName is the run-log database kept in the cache directory.
const DBFileName = "trendpost.db"

// timestampLayout is fixed width so that text ordering is chronological.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the sqlite run-log of recorded attempts.
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		succeeded BOOLEAN NOT NULL,
		timestamp TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON attempts(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveAttempt inserts an attempt. Saving the same ID twice is a no-op.
func (s *Store) SaveAttempt(a types.Attempt) error {
	_, err := s.db.Exec(`
		INSERT INTO attempts (id, topic, source, text, stage, error, succeeded, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, a.ID, a.Topic, string(a.Source), a.Text, string(a.Stage), a.Err, a.Succeeded,
		a.Timestamp.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (s *Store) RecentAttempts(limit int) ([]types.Attempt, error) {
	rows, err := s.db.Query(`
		SELECT id, topic, source, text, stage, error, succeeded, timestamp
		FROM attempts
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// Totals holds lifetime counters across all sessions.
type Totals struct {
	Total     int
	Succeeded int
}

// Totals counts every attempt in the run-log.
func (s *Store) Totals() (Totals, error) {
	var t Totals
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN succeeded THEN 1 ELSE 0 END), 0)
		FROM attempts
	`).Scan(&t.Total, &t.Succeeded)
	return t, err
}

func scanAttempts(rows *sql.Rows) ([]types.Attempt, error) {
	var attempts []types.Attempt
	for rows.Next() {
		var a types.Attempt
		var source, stage, ts string

		err := rows.Scan(&a.ID, &a.Topic, &source, &a.Text, &stage, &a.Err, &a.Succeeded, &ts)
		if err != nil {
			return nil, err
		}

		a.Source = types.TopicSource(source)
		a.Stage = types.Stage(stage)
		a.Timestamp, err = time.Parse(timestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("attempt %s: bad timestamp %q: %w", a.ID, ts, err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
