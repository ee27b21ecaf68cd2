package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"benchflow/runner/storage"
	"benchflow/script"
)

// TranslatorOptions carries the run configuration into plan generation.
type TranslatorOptions struct {
	Replicates   int
	Force        bool
	MaxJobs      int
	IgnoreErrors bool
}

// Translator compiles pipelines into a mapping plan and, once the mapping
// phase has reported signatures, into a filtered execution plan.
type Translator struct {
	runtime    *script.Runtime
	workDir    string
	opts       TranslatorOptions
	steps      []*Step
	byID       map[string]*Step
	instances  []storage.PipelineInstance
	filtered   []*Step
	filterDone bool
}

// NewTranslator expands every pipeline, replicate and parameter instance into
// concrete steps. Steps with an identical upstream chain are shared.
func NewTranslator(pipelines []script.Pipeline, rt *script.Runtime, workDir string, opts TranslatorOptions) (*Translator, error) {
	if opts.Replicates < 1 {
		return nil, &ConfigError{Msg: fmt.Sprintf("replicates must be at least 1, got %d", opts.Replicates)}
	}
	if opts.MaxJobs < 1 {
		return nil, &ConfigError{Msg: fmt.Sprintf("number of jobs must be at least 1, got %d", opts.MaxJobs)}
	}
	if len(pipelines) == 0 {
		return nil, &ConfigError{Msg: "no pipeline to translate"}
	}

	t := &Translator{
		runtime: rt,
		workDir: workDir,
		opts:    opts,
		byID:    make(map[string]*Step),
	}
	for _, p := range pipelines {
		if len(p.Modules) == 0 {
			return nil, &ConfigError{Msg: "empty pipeline"}
		}
		for r := 1; r <= opts.Replicates; r++ {
			t.expand(p, r)
		}
	}
	return t, nil
}

func (t *Translator) expand(p script.Pipeline, replicate int) {
	chains := [][]*Step{{}}
	for _, mod := range p.Modules {
		next := make([][]*Step, 0, len(chains))
		for _, chain := range chains {
			var upstream *Step
			if len(chain) > 0 {
				upstream = chain[len(chain)-1]
			}
			for _, params := range mod.Instances() {
				step := t.addStep(mod, params, replicate, upstream)
				next = append(next, append(slices.Clone(chain), step))
			}
		}
		chains = next
	}

	captain := p.Captain()
	for _, chain := range chains {
		ids := make([]string, len(chain))
		for i, s := range chain {
			ids[i] = s.ID
		}
		t.instances = append(t.instances, storage.PipelineInstance{
			Captain:   slices.Clone(captain),
			Replicate: replicate,
			Steps:     ids,
		})
	}
}

func (t *Translator) addStep(mod *script.Module, params map[string]string, replicate int, upstream *Step) *Step {
	id := stepID(mod.Name, params, replicate, upstream)
	if existing, ok := t.byID[id]; ok {
		return existing
	}

	base := filepath.Join(mod.Name, mod.Name+"_"+id)
	step := &Step{
		ID:        id,
		Module:    mod.Name,
		Command:   mod.Exec,
		Params:    params,
		Replicate: replicate,
		Base:      base,
	}
	for _, target := range mod.Outputs {
		step.Outputs = append(step.Outputs, base+"."+target)
	}
	if upstream != nil {
		step.Depends = []string{upstream.ID}
		step.Inputs = slices.Clone(upstream.Outputs)
	}

	t.steps = append(t.steps, step)
	t.byID[id] = step
	return step
}

// stepID addresses a step by what it computes. The replicate only enters the
// first step of a chain; downstream steps inherit it through their upstream.
func stepID(module string, params map[string]string, replicate int, upstream *Step) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "module=%s\n", module)
	for _, k := range keys {
		fmt.Fprintf(h, "param:%s=%s\n", k, params[k])
	}
	if upstream == nil {
		fmt.Fprintf(h, "replicate=%d\n", replicate)
	} else {
		fmt.Fprintf(h, "after=%s\n", upstream.ID)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Steps returns every expanded step in topological order.
func (t *Translator) Steps() []*Step { return t.steps }

// Instances returns every expanded pipeline instance.
func (t *Translator) Instances() []storage.PipelineInstance { return t.instances }

// MappingPlan is the first-phase plan covering every step.
func (t *Translator) MappingPlan() *Plan {
	return t.plan(PlanMapping, t.steps)
}

// FilterExecution prunes steps whose prior output can be reused. Forced runs
// keep everything. Otherwise a step is kept when it is stale or downstream of
// a stale step, and a zapped step is kept only when a kept step consumes it.
func (t *Translator) FilterExecution(report *Report) {
	status := func(id string) string {
		if sr, ok := report.Steps[id]; ok {
			return sr.Status
		}
		return storage.StatusStale
	}
	for _, s := range t.steps {
		if sr, ok := report.Steps[s.ID]; ok {
			s.Signature = sr.Signature
		}
	}

	keep := make(map[string]bool, len(t.steps))
	for _, s := range t.steps {
		if t.opts.Force || status(s.ID) == storage.StatusStale {
			keep[s.ID] = true
			continue
		}
		for _, dep := range s.Depends {
			if keep[dep] {
				keep[s.ID] = true
				break
			}
		}
	}
	// Steps are in topological order, so walking backwards reaches every
	// consumer before the zapped producer it needs regenerated.
	for i := len(t.steps) - 1; i >= 0; i-- {
		s := t.steps[i]
		if !keep[s.ID] {
			continue
		}
		for _, dep := range s.Depends {
			if status(dep) == storage.StatusZapped {
				keep[dep] = true
			}
		}
	}

	t.filtered = t.filtered[:0]
	for _, s := range t.steps {
		if keep[s.ID] {
			t.filtered = append(t.filtered, s)
		}
	}
	t.filterDone = true
}

// ExecutionPlan is the second-phase plan. FilterExecution must run first.
func (t *Translator) ExecutionPlan() (*Plan, error) {
	if !t.filterDone {
		return nil, fmt.Errorf("execution plan requested before the mapping phase was filtered")
	}
	return t.plan(PlanExecution, t.filtered), nil
}

func (t *Translator) plan(kind PlanKind, steps []*Step) *Plan {
	return &Plan{
		Kind:         kind,
		Name:         t.runtime.Name(),
		OutputDir:    t.runtime.Output,
		WorkDir:      t.workDir,
		Steps:        slices.Clone(steps),
		IgnoreErrors: kind == PlanExecution && t.opts.IgnoreErrors,
	}
}

// IOArtifact describes every step and pipeline instance for persistence.
func (t *Translator) IOArtifact() *storage.IOArtifact {
	a := &storage.IOArtifact{Instances: slices.Clone(t.instances)}
	for _, s := range t.steps {
		a.Steps = append(a.Steps, storage.IOStep{
			ID:        s.ID,
			Module:    s.Module,
			Base:      s.Base,
			Command:   s.Command,
			Params:    s.Params,
			Replicate: s.Replicate,
			Depends:   s.Depends,
			Inputs:    s.Inputs,
			Outputs:   s.Outputs,
		})
	}
	return a
}

// String summarizes the translator for debug logs.
func (t *Translator) String() string {
	modules := map[string]int{}
	for _, s := range t.steps {
		modules[s.Module]++
	}
	parts := make([]string, 0, len(modules))
	for m, n := range modules {
		parts = append(parts, fmt.Sprintf("%s:%d", m, n))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d steps, %d instances (%s)", len(t.steps), len(t.instances), strings.Join(parts, " "))
}
