package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// PipelineStats summarizes a pipeline entry for listing.
type PipelineStats struct {
	Key           string `json:"key"`
	Terminal      string `json:"terminal"`
	CaptainCount  int    `json:"captain_count"`
	InstanceCount int    `json:"instance_count"`
}

// ListPipelines returns every pipeline entry with captain and instance counts.
func (s *Storage) ListPipelines() ([]PipelineStats, error) {
	query := `
		SELECT
			p.key,
			p.terminal,
			(SELECT COUNT(*) FROM captains c WHERE c.pipeline_key = p.key),
			(SELECT COUNT(*) FROM pipeline_instances i WHERE i.pipeline_key = p.key)
		FROM pipelines p
		ORDER BY p.key
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}
	defer rows.Close()

	stats := make([]PipelineStats, 0)
	for rows.Next() {
		var stat PipelineStats
		if err := rows.Scan(&stat.Key, &stat.Terminal, &stat.CaptainCount, &stat.InstanceCount); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline stats: %w", err)
		}
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

// GetPipeline returns one pipeline entry with its captain sequences.
func (s *Storage) GetPipeline(key string) (*PipelineRow, error) {
	var p PipelineRow
	err := s.db.QueryRow("SELECT key, terminal FROM pipelines WHERE key = ?", key).Scan(&p.Key, &p.Terminal)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}

	rows, err := s.db.Query("SELECT modules FROM captains WHERE pipeline_key = ? ORDER BY seq_index", key)
	if err != nil {
		return nil, fmt.Errorf("failed to query captains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var modules string
		if err := rows.Scan(&modules); err != nil {
			return nil, fmt.Errorf("failed to scan captain: %w", err)
		}
		var captain []string
		if err := json.Unmarshal([]byte(modules), &captain); err != nil {
			return nil, fmt.Errorf("failed to decode captain: %w", err)
		}
		p.Captains = append(p.Captains, captain)
	}

	return &p, rows.Err()
}

// GetPipelineInstances returns the executed replicates of a pipeline entry.
func (s *Storage) GetPipelineInstances(key string) ([]InstanceRow, error) {
	rows, err := s.db.Query(
		"SELECT pipeline_key, seq_index, replicate, steps FROM pipeline_instances WHERE pipeline_key = ? ORDER BY id",
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	instances := make([]InstanceRow, 0)
	for rows.Next() {
		var inst InstanceRow
		var steps string
		if err := rows.Scan(&inst.PipelineKey, &inst.SeqIndex, &inst.Replicate, &steps); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &inst.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode instance steps: %w", err)
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}
