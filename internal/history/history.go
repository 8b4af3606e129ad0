// Package history journals session lifecycles to a local sqlite database so
// `porterminal history` can show what ran, for whom, and why it ended.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	shell_id TEXT NOT NULL,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at DATETIME,
	reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

// Entry is one journaled session. EndedAt and Reason are nil while the
// session is still running.
type Entry struct {
	ID        int64
	SessionID string
	UserID    string
	ShellID   string
	StartedAt time.Time
	EndedAt   *time.Time
	Reason    *string
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart journals a freshly created session.
func (s *Store) RecordStart(id, userID, shellID string) error {
	_, err := s.db.Exec(
		"INSERT INTO sessions (session_id, user_id, shell_id) VALUES (?, ?, ?)",
		id, userID, shellID)
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// RecordEnd closes the open journal entry for id. Already-closed entries are
// left alone, so repeated destruction stays idempotent here too.
func (s *Store) RecordEnd(id, reason string) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET ended_at = CURRENT_TIMESTAMP, reason = ? WHERE session_id = ? AND ended_at IS NULL",
		reason, id)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

// Recent returns the newest n entries, newest first. n <= 0 means 20.
func (s *Store) Recent(n int) ([]*Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.Query(`SELECT id, session_id, user_id, shell_id, started_at, ended_at, reason
		FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.ShellID, &e.StartedAt, &e.EndedAt, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
