package storage

import "time"

// Step states reported by the mapping phase.
const (
	StatusUpToDate = "up-to-date"
	StatusZapped   = "zapped"
	StatusStale    = "stale"
)

// MapEntry binds one step to its output location and signature.
type MapEntry struct {
	Module    string `msgpack:"module"`
	Base      string `msgpack:"base"`
	Signature string `msgpack:"signature"`
	Status    string `msgpack:"status"`
}

// MapArtifact is the B.map.mpk file written after the mapping phase.
type MapArtifact struct {
	CreatedAt time.Time           `msgpack:"created_at"`
	Steps     map[string]MapEntry `msgpack:"steps"`
}

// IOStep describes the input/output bindings of one step.
type IOStep struct {
	ID        string            `msgpack:"id"`
	Module    string            `msgpack:"module"`
	Base      string            `msgpack:"base"`
	Command   string            `msgpack:"command"`
	Params    map[string]string `msgpack:"params"`
	Replicate int               `msgpack:"replicate"`
	Depends   []string          `msgpack:"depends"`
	Inputs    []string          `msgpack:"inputs"`
	Outputs   []string          `msgpack:"outputs"`
}

// PipelineInstance is one replicate of one pipeline expanded into steps.
type PipelineInstance struct {
	Captain   []string `msgpack:"captain"`
	Replicate int      `msgpack:"replicate"`
	Steps     []string `msgpack:"steps"` // step IDs, in captain order
}

// IOArtifact is the B.io.mpk file written after the mapping phase.
type IOArtifact struct {
	Steps     []IOStep           `msgpack:"steps"`
	Instances []PipelineInstance `msgpack:"instances"`
}

// StepByID indexes the artifact's steps.
func (a *IOArtifact) StepByID() map[string]IOStep {
	idx := make(map[string]IOStep, len(a.Steps))
	for _, s := range a.Steps {
		idx[s.ID] = s
	}
	return idx
}

// WriteMapArtifact persists the mapping result.
func WriteMapArtifact(path string, a *MapArtifact) error {
	return writeMsgpack(path, a)
}

// ReadMapArtifact loads a mapping result.
func ReadMapArtifact(path string) (*MapArtifact, error) {
	var a MapArtifact
	if err := readMsgpack(path, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// WriteIOArtifact persists the step bindings.
func WriteIOArtifact(path string, a *IOArtifact) error {
	return writeMsgpack(path, a)
}

// ReadIOArtifact loads the step bindings.
func ReadIOArtifact(path string) (*IOArtifact, error) {
	var a IOArtifact
	if err := readMsgpack(path, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
