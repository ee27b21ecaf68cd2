package script

import (
	"path/filepath"
	"slices"
)

// Param is one named parameter binding of a module. A parameter with more
// than one value fans the module out into several instances.
type Param struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Module is a single computational step of the benchmark.
type Module struct {
	Name    string   `json:"name"`
	Exec    string   `json:"exec"`    // command line used to run the module
	Outputs []string `json:"outputs"` // declared output targets (file suffixes)
	Params  []Param  `json:"params"`
}

// Instances returns the cartesian product of the module's parameter values in
// declaration order. A module without parameters has exactly one instance.
func (m *Module) Instances() []map[string]string {
	instances := []map[string]string{{}}
	for _, p := range m.Params {
		next := make([]map[string]string, 0, len(instances)*len(p.Values))
		for _, inst := range instances {
			for _, v := range p.Values {
				expanded := make(map[string]string, len(inst)+1)
				for k, val := range inst {
					expanded[k] = val
				}
				expanded[p.Name] = v
				next = append(next, expanded)
			}
		}
		instances = next
	}
	return instances
}

// Pipeline is one linear execution path through the module graph. Modules are
// referenced, not owned; several pipelines may share a module.
type Pipeline struct {
	Modules []*Module
}

// Captain returns the ordered module names the pipeline traverses.
func (p Pipeline) Captain() []string {
	names := make([]string, len(p.Modules))
	for i, m := range p.Modules {
		names[i] = m.Name
	}
	return names
}

// Terminal returns the last module of the pipeline.
func (p Pipeline) Terminal() *Module {
	if len(p.Modules) == 0 {
		return nil
	}
	return p.Modules[len(p.Modules)-1]
}

// Contains reports whether the named module is a step of the pipeline.
func (p Pipeline) Contains(name string) bool {
	for _, m := range p.Modules {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Runtime holds the run-wide configuration. It is built once by Load and must
// be treated as read-only afterwards.
type Runtime struct {
	Output           string
	LibPath          []string
	ExecPath         []string
	Groups           map[string][]string
	Concats          map[string][]string
	SequenceOrdering []string
	Options          map[string]string
}

// Name is the database basename derived from the output directory.
func (r *Runtime) Name() string {
	return filepath.Base(filepath.Clean(r.Output))
}

// RemovalGroups merges concatenation sets and groups, groups taking precedence.
func (r *Runtime) RemovalGroups() map[string][]string {
	merged := make(map[string][]string, len(r.Groups)+len(r.Concats))
	for k, v := range r.Concats {
		merged[k] = slices.Clone(v)
	}
	for k, v := range r.Groups {
		merged[k] = slices.Clone(v)
	}
	return merged
}

// Script is the loaded module graph together with its runtime configuration.
type Script struct {
	Path      string
	Dir       string
	Source    string
	Modules   map[string]*Module
	Order     []string // module declaration order
	Pipelines []Pipeline
	Runtime   *Runtime
}

// Captains returns the captain sequence of every pipeline.
func (s *Script) Captains() [][]string {
	out := make([][]string, len(s.Pipelines))
	for i, p := range s.Pipelines {
		out[i] = p.Captain()
	}
	return out
}
