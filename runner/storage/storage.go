package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the queryable result database built by consolidation.
type Storage struct {
	db *sql.DB
}

// NewStorage opens or creates the result database at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &Storage{db: db}
	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates the database tables
func (s *Storage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			script_hash TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			duration TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS provenance (
			run_id TEXT PRIMARY KEY,
			script TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS module_groups (
			name TEXT PRIMARY KEY,
			members TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pipelines (
			key TEXT PRIMARY KEY,
			terminal TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS captains (
			pipeline_key TEXT NOT NULL,
			seq_index INTEGER NOT NULL,
			modules TEXT NOT NULL,
			PRIMARY KEY(pipeline_key, seq_index),
			FOREIGN KEY(pipeline_key) REFERENCES pipelines(key) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_instances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pipeline_key TEXT NOT NULL,
			seq_index INTEGER NOT NULL,
			replicate INTEGER NOT NULL,
			steps TEXT NOT NULL,
			FOREIGN KEY(pipeline_key) REFERENCES pipelines(key) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS module_outputs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			module TEXT NOT NULL,
			file TEXT NOT NULL,
			step_id TEXT NOT NULL,
			replicate INTEGER NOT NULL,
			params TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_instances_key ON pipeline_instances(pipeline_key)`,
		`CREATE INDEX IF NOT EXISTS idx_module_outputs_module ON module_outputs(module)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
