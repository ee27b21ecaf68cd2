package storage

import "time"

// Run represents one consolidation of the result database
type Run struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`   // "default", "force", "skip-all"
	Status     string     `json:"status"` // "running", "success", "failed"
	ScriptHash string     `json:"script_hash"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}

// PipelineRow is one pipeline entry keyed by its terminal module.
type PipelineRow struct {
	Key      string     `json:"key"` // "pipeline_<terminal>"
	Terminal string     `json:"terminal"`
	Captains [][]string `json:"captains"`
}

// InstanceRow is one executed replicate of a captain sequence.
type InstanceRow struct {
	PipelineKey string   `json:"pipeline_key"`
	SeqIndex    int      `json:"seq_index"`
	Replicate   int      `json:"replicate"`
	Steps       []string `json:"steps"` // output base per module, in captain order
}

// ModuleOutputRow is one module instance from the output record store.
type ModuleOutputRow struct {
	Module    string            `json:"module"`
	File      string            `json:"file"`
	StepID    string            `json:"step_id"`
	Replicate int               `json:"replicate"`
	Params    map[string]string `json:"params"`
	Status    string            `json:"status"`
}

// ResultSet is everything a consolidation writes in one pass.
type ResultSet struct {
	Script    string
	Groups    map[string][]string
	Pipelines []PipelineRow
	Instances []InstanceRow
	Outputs   []ModuleOutputRow
}
