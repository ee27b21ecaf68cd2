package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// CreateRun creates a new run record
func (s *Storage) CreateRun(mode, scriptHash string) (*Run, error) {
	now := time.Now().UTC()
	id := ulid.Make().String()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, mode, status, script_hash, started_at) VALUES (?, ?, ?, ?, ?)",
		id, mode, "running", scriptHash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &Run{
		ID:         id,
		Mode:       mode,
		Status:     "running",
		ScriptHash: scriptHash,
		StartedAt:  now,
	}, nil
}

// UpdateRunStatus updates the status and finish time of a run
func (s *Storage) UpdateRunStatus(runID, status string, duration time.Duration) error {
	now := time.Now().UTC()
	durationStr := duration.String()
	_, err := s.db.Exec(
		"UPDATE runs SET status = ?, finished_at = ?, duration = ? WHERE id = ?",
		status, now, durationStr, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// GetRuns retrieves runs, most recent first
func (s *Storage) GetRuns(limit int) ([]*Run, error) {
	query := "SELECT id, mode, status, script_hash, started_at, finished_at, duration FROM runs ORDER BY started_at DESC LIMIT ?"
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRun retrieves a single run by ID
func (s *Storage) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(
		"SELECT id, mode, status, script_hash, started_at, finished_at, duration FROM runs WHERE id = ?",
		runID,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	return r, err
}

// GetProvenance returns the script text archived with a run.
func (s *Storage) GetProvenance(runID string) (string, error) {
	var script string
	err := s.db.QueryRow("SELECT script FROM provenance WHERE run_id = ?", runID).Scan(&script)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no provenance for run %s", runID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get provenance: %w", err)
	}
	return script, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var finishedAt sql.NullTime
	var duration sql.NullString

	err := row.Scan(&r.ID, &r.Mode, &r.Status, &r.ScriptHash, &r.StartedAt, &finishedAt, &duration)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if duration.Valid {
		durationStr := duration.String
		r.Duration = &durationStr
	}
	return &r, nil
}
