package editor

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunStore is the SQLite-backed audit log of editor-driven runs. A nil
// store is valid and records nothing.
type RunStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRunStore opens (or creates) the audit database at path.
func NewRunStore(path string) (*RunStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &RunStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit database: %w", err)
	}
	return s, nil
}

func (s *RunStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id  TEXT NOT NULL,
			prompt_name  TEXT NOT NULL,
			success      INTEGER NOT NULL,
			message      TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_instance ON runs(instance_id);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`)
	return err
}

// Record appends one run audit row; failures are swallowed so auditing
// never affects command outcomes.
func (s *RunStore) Record(instanceID, promptName string, success bool, message string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec(
		"INSERT INTO runs (instance_id, prompt_name, success, message, created_at) VALUES (?, ?, ?, ?, ?)",
		instanceID, promptName, boolToInt(success), message, time.Now().Format(time.RFC3339),
	)
}

// RunRecord is one audited run.
type RunRecord struct {
	InstanceID string
	PromptName string
	Success    bool
	Message    string
	CreatedAt  time.Time
}

// Recent returns up to limit audit rows, newest first.
func (s *RunStore) Recent(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT instance_id, prompt_name, success, message, created_at FROM runs ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var success int
		var created string
		if err := rows.Scan(&r.InstanceID, &r.PromptName, &success, &r.Message, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Success = success != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
