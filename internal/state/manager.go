// Package state keeps the operation history in sqlite.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DBName is the history database file inside the state directory
const DBName = "reprefix.db"

// Status of a finished operation
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusFallback Status = "fallback"
	StatusNoop     Status = "noop"
	// StatusPartial: the install succeeded but some wrappers failed
	StatusPartial Status = "partial"
)

func (s Status) valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusFallback, StatusNoop, StatusPartial:
		return true
	}
	return false
}

// Record is one install, transcode, wrap or doctor run
type Record struct {
	// ID is the operation id carried by the operation's log stream
	ID        string    `json:"id" yaml:"id"`
	Kind      string    `json:"kind" yaml:"kind"`
	Subject   string    `json:"subject" yaml:"subject"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	EndTime   time.Time `json:"end_time" yaml:"end_time"`
	Status    Status    `json:"status" yaml:"status"`
	// Detail is a short human summary ("entries=812 rewritten=97")
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration of the operation
func (r Record) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// Manager handles state persistence and operation history
type Manager struct {
	db *sql.DB
}

// NewManager opens (creating if needed) the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, DBName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 單一連線，避免 "database is locked"
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}
	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		subject TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_operations_kind_time ON operations(kind, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// Save records a finished operation. An empty ID gets a fresh uuid; the
// stored record is returned.
func (m *Manager) Save(ctx context.Context, rec Record) (Record, error) {
	if !rec.Status.valid() {
		return rec, fmt.Errorf("invalid status: %q", rec.Status)
	}
	if rec.Kind == "" {
		return rec, fmt.Errorf("operation kind cannot be empty")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.EndTime.IsZero() {
		rec.EndTime = time.Now()
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO operations (id, kind, subject, start_time, end_time, status, detail, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Subject, rec.StartTime, rec.EndTime, string(rec.Status), rec.Detail, rec.Error,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to save operation record: %w", err)
	}
	return rec, nil
}

// History returns the newest records first; an empty kind means all kinds
func (m *Manager) History(ctx context.Context, kind string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `SELECT id, kind, subject, start_time, end_time, status, detail, error FROM operations`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY start_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Last returns the newest record of kind with status, or nil
func (m *Manager) Last(ctx context.Context, kind string, status Status) (*Record, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, kind, subject, start_time, end_time, status, detail, error
		FROM operations
		WHERE kind = ? AND status = ?
		ORDER BY start_time DESC
		LIMIT 1`, kind, string(status))

	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Stats counts records per kind and status
func (m *Manager) Stats(ctx context.Context) (map[string]map[Status]int, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT kind, status, COUNT(*) FROM operations GROUP BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]map[Status]int)
	for rows.Next() {
		var kind, status string
		var n int
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		if stats[kind] == nil {
			stats[kind] = make(map[Status]int)
		}
		stats[kind][Status(status)] = n
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Record, error) {
	var rec Record
	var status string
	err := s.Scan(&rec.ID, &rec.Kind, &rec.Subject, &rec.StartTime, &rec.EndTime, &status, &rec.Detail, &rec.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.Status = Status(status)
	return rec, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
