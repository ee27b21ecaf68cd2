package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchflow/runner/storage"
	"benchflow/script"
)

func newTranslator(t *testing.T, pipelines []script.Pipeline, opts TranslatorOptions) *Translator {
	t.Helper()
	if opts.Replicates == 0 {
		opts.Replicates = 1
	}
	if opts.MaxJobs == 0 {
		opts.MaxJobs = 2
	}
	tr, err := NewTranslator(pipelines, &script.Runtime{Output: t.TempDir()}, t.TempDir(), opts)
	require.NoError(t, err)
	return tr
}

func stepsByModule(steps []*Step) map[string][]*Step {
	out := map[string][]*Step{}
	for _, s := range steps {
		out[s.Module] = append(out[s.Module], s)
	}
	return out
}

func TestTranslatorSharesCommonUpstream(t *testing.T) {
	tr := newTranslator(t, diamond(), TranslatorOptions{})

	byModule := stepsByModule(tr.Steps())
	assert.Len(t, byModule["A"], 1)
	assert.Len(t, byModule["B"], 1)
	assert.Len(t, byModule["C"], 1)
	assert.Len(t, byModule["D"], 2, "D runs once after B and once after C")

	a := byModule["A"][0]
	assert.Equal(t, []string{a.ID}, byModule["B"][0].Depends)
	assert.Equal(t, []string{a.ID}, byModule["C"][0].Depends)
	assert.Equal(t, "A/A_"+a.ID, a.Base)
	assert.Equal(t, []string{"A/A_" + a.ID + ".out"}, a.Outputs)
	assert.Equal(t, a.Outputs, byModule["B"][0].Inputs)

	require.Len(t, tr.Instances(), 2)
	assert.Equal(t, []string{"A", "B", "D"}, tr.Instances()[0].Captain)
	assert.Equal(t, []string{"A", "C", "D"}, tr.Instances()[1].Captain)
}

func TestTranslatorStepsAreTopological(t *testing.T) {
	tr := newTranslator(t, diamond(), TranslatorOptions{Replicates: 3})

	seen := map[string]bool{}
	for _, s := range tr.Steps() {
		for _, dep := range s.Depends {
			assert.True(t, seen[dep], "step %s listed before its upstream %s", s.ID, dep)
		}
		seen[s.ID] = true
	}
	assert.Len(t, tr.Steps(), 15)
	assert.Len(t, tr.Instances(), 6)
}

func TestTranslatorExpandsParameterInstances(t *testing.T) {
	sim := mod("sim", "data")
	sim.Params = []script.Param{{Name: "n", Values: []string{"10", "20"}}}
	fit := mod("fit", "fit")
	fit.Params = []script.Param{{Name: "alpha", Values: []string{"0.1", "0.5", "1"}}}

	tr := newTranslator(t, pipelinesOf([]*script.Module{sim, fit}), TranslatorOptions{})

	byModule := stepsByModule(tr.Steps())
	assert.Len(t, byModule["sim"], 2)
	assert.Len(t, byModule["fit"], 6)
	assert.Len(t, tr.Instances(), 6)
	assert.Equal(t, "10", byModule["sim"][0].Params["n"])
}

func TestStepIDDependsOnReplicateOnlyAtTheRoot(t *testing.T) {
	root1 := stepID("A", nil, 1, nil)
	root2 := stepID("A", nil, 2, nil)
	assert.NotEqual(t, root1, root2)
	assert.Len(t, root1, 12)

	up := &Step{ID: root1}
	assert.Equal(t, stepID("B", nil, 1, up), stepID("B", nil, 2, up))
	assert.NotEqual(t, stepID("B", map[string]string{"k": "1"}, 1, up), stepID("B", map[string]string{"k": "2"}, 1, up))
}

func TestNewTranslatorRejectsInvalidOptions(t *testing.T) {
	rt := &script.Runtime{Output: "out"}
	cases := map[string]struct {
		pipelines []script.Pipeline
		opts      TranslatorOptions
	}{
		"no replicates": {diamond(), TranslatorOptions{Replicates: 0, MaxJobs: 1}},
		"no jobs":       {diamond(), TranslatorOptions{Replicates: 1, MaxJobs: 0}},
		"no pipelines":  {nil, TranslatorOptions{Replicates: 1, MaxJobs: 1}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTranslator(tc.pipelines, rt, ".", tc.opts)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestExecutionPlanRequiresFiltering(t *testing.T) {
	tr := newTranslator(t, diamond(), TranslatorOptions{})
	_, err := tr.ExecutionPlan()
	assert.Error(t, err)
}

// mappingReport classifies every step of tr by module name.
func mappingReport(tr *Translator, status map[string]string) *Report {
	r := &Report{Kind: PlanMapping, Steps: map[string]*StepReport{}}
	for _, s := range tr.Steps() {
		st, ok := status[s.Module]
		if !ok {
			st = storage.StatusUpToDate
		}
		r.Steps[s.ID] = &StepReport{ID: s.ID, Module: s.Module, Base: s.Base, Signature: "sig-" + s.ID, Status: st}
	}
	return r
}

func modulesOf(p *Plan) []string {
	var names []string
	for _, s := range p.Steps {
		names = append(names, s.Module)
	}
	return names
}

func TestFilterExecution(t *testing.T) {
	tests := []struct {
		name   string
		force  bool
		status map[string]string
		want   []string
	}{
		{name: "everything up to date", want: nil},
		{name: "stale step pulls in its dependents", status: map[string]string{"B": storage.StatusStale}, want: []string{"B", "D"}},
		{name: "stale root reruns everything", status: map[string]string{"A": storage.StatusStale}, want: []string{"A", "B", "D", "C", "D"}},
		{name: "zapped step alone is left alone", status: map[string]string{"B": storage.StatusZapped}, want: nil},
		{
			name:   "zapped step consumed by a stale step is regenerated",
			status: map[string]string{"A": storage.StatusZapped, "C": storage.StatusStale},
			want:   []string{"A", "C", "D"},
		},
		{name: "force keeps all", force: true, want: []string{"A", "B", "D", "C", "D"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTranslator(t, diamond(), TranslatorOptions{Force: tc.force, IgnoreErrors: true})
			tr.FilterExecution(mappingReport(tr, tc.status))

			plan, err := tr.ExecutionPlan()
			require.NoError(t, err)
			assert.Equal(t, PlanExecution, plan.Kind)
			assert.True(t, plan.IgnoreErrors)
			assert.Equal(t, tc.want, modulesOf(plan))
			for _, s := range plan.Steps {
				assert.Equal(t, "sig-"+s.ID, s.Signature)
			}
		})
	}
}

func TestMappingPlanCoversEveryStep(t *testing.T) {
	tr := newTranslator(t, diamond(), TranslatorOptions{IgnoreErrors: true})
	plan := tr.MappingPlan()

	assert.Equal(t, PlanMapping, plan.Kind)
	assert.False(t, plan.IgnoreErrors)
	assert.Len(t, plan.Steps, 5)
	assert.Contains(t, plan.Render(), "# mapping plan")
	assert.NotContains(t, plan.Render(), "run: ")
}

func TestIOArtifactDescribesSteps(t *testing.T) {
	tr := newTranslator(t, diamond(), TranslatorOptions{Replicates: 2})
	a := tr.IOArtifact()

	assert.Len(t, a.Steps, 10)
	assert.Len(t, a.Instances, 4)
	idx := a.StepByID()
	for _, inst := range a.Instances {
		require.Len(t, inst.Steps, 3)
		for i, id := range inst.Steps {
			assert.Equal(t, inst.Captain[i], idx[id].Module)
		}
	}
}
