package storage

import (
	"encoding/json"
	"fmt"
)

// ReplaceResults rebuilds every result table from rs and archives the script
// under runID. Previous pipeline and module rows are discarded; run history is
// kept.
func (s *Storage) ReplaceResults(runID string, rs ResultSet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"pipeline_instances", "captains", "pipelines", "module_outputs", "module_groups"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO provenance (run_id, script) VALUES (?, ?)", runID, rs.Script,
	); err != nil {
		return fmt.Errorf("failed to store provenance: %w", err)
	}

	for name, members := range rs.Groups {
		if _, err := tx.Exec("INSERT INTO module_groups (name, members) VALUES (?, ?)", name, mustJSON(members)); err != nil {
			return fmt.Errorf("failed to store group %s: %w", name, err)
		}
	}

	for _, p := range rs.Pipelines {
		if _, err := tx.Exec("INSERT INTO pipelines (key, terminal) VALUES (?, ?)", p.Key, p.Terminal); err != nil {
			return fmt.Errorf("failed to store pipeline %s: %w", p.Key, err)
		}
		for i, captain := range p.Captains {
			if _, err := tx.Exec(
				"INSERT INTO captains (pipeline_key, seq_index, modules) VALUES (?, ?, ?)",
				p.Key, i, mustJSON(captain),
			); err != nil {
				return fmt.Errorf("failed to store captain of %s: %w", p.Key, err)
			}
		}
	}

	for _, inst := range rs.Instances {
		if _, err := tx.Exec(
			"INSERT INTO pipeline_instances (pipeline_key, seq_index, replicate, steps) VALUES (?, ?, ?, ?)",
			inst.PipelineKey, inst.SeqIndex, inst.Replicate, mustJSON(inst.Steps),
		); err != nil {
			return fmt.Errorf("failed to store instance of %s: %w", inst.PipelineKey, err)
		}
	}

	for _, out := range rs.Outputs {
		if _, err := tx.Exec(
			"INSERT INTO module_outputs (module, file, step_id, replicate, params, status) VALUES (?, ?, ?, ?, ?, ?)",
			out.Module, out.File, out.StepID, out.Replicate, mustJSON(out.Params), out.Status,
		); err != nil {
			return fmt.Errorf("failed to store output of %s: %w", out.Module, err)
		}
	}

	return tx.Commit()
}

// GetModuleOutputs retrieves all output rows of a module
func (s *Storage) GetModuleOutputs(module string) ([]*ModuleOutputRow, error) {
	rows, err := s.db.Query(
		"SELECT module, file, step_id, replicate, params, status FROM module_outputs WHERE module = ? ORDER BY id ASC",
		module,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query module outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*ModuleOutputRow
	for rows.Next() {
		var out ModuleOutputRow
		var params string
		if err := rows.Scan(&out.Module, &out.File, &out.StepID, &out.Replicate, &params, &out.Status); err != nil {
			return nil, fmt.Errorf("failed to scan module output: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &out.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params of %s: %w", out.File, err)
		}
		outputs = append(outputs, &out)
	}

	return outputs, rows.Err()
}

// GetGroups returns the group table archived with the results.
func (s *Storage) GetGroups() (map[string][]string, error) {
	rows, err := s.db.Query("SELECT name, members FROM module_groups")
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	groups := map[string][]string{}
	for rows.Next() {
		var name, members string
		if err := rows.Scan(&name, &members); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		var list []string
		if err := json.Unmarshal([]byte(members), &list); err != nil {
			return nil, fmt.Errorf("failed to decode group %s: %w", name, err)
		}
		groups[name] = list
	}
	return groups, rows.Err()
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// only plain strings, slices and maps reach here
		panic(fmt.Sprintf("storage: unencodable value %T: %v", v, err))
	}
	return string(data)
}
