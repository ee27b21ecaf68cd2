package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchflow/events"
	"benchflow/runner/storage"
	"benchflow/script"
)

func engineFixture(t *testing.T, pipelines []script.Pipeline, ignoreErrors bool) (*Translator, *LocalEngine) {
	t.Helper()
	out := t.TempDir()
	tr, err := NewTranslator(pipelines, &script.Runtime{Output: out}, t.TempDir(), TranslatorOptions{
		Replicates: 1, MaxJobs: 2, IgnoreErrors: ignoreErrors,
	})
	require.NoError(t, err)
	return tr, &LocalEngine{Broker: events.NewBroker()}
}

func submitBoth(t *testing.T, tr *Translator, e *LocalEngine, mode SigMode) (*Report, *Plan, *Report, error) {
	t.Helper()
	ctx := context.Background()
	mapping, err := e.Submit(ctx, tr.MappingPlan(), SubmitOptions{MaxJobs: 2, SigMode: mode})
	require.NoError(t, err)
	tr.FilterExecution(mapping)
	plan, err := tr.ExecutionPlan()
	require.NoError(t, err)
	run, err := e.Submit(ctx, plan, SubmitOptions{MaxJobs: 2, SigMode: mode})
	return mapping, plan, run, err
}

func TestLocalEngineRunsThenSkipsUnchangedSteps(t *testing.T) {
	requireBash(t)
	tr, e := engineFixture(t, diamond(), false)
	out := tr.runtime.Output

	mapping, plan, run, err := submitBoth(t, tr, e, SigModeDefault)
	require.NoError(t, err)
	assert.Len(t, mapping.WithStatus(storage.StatusStale), 5)
	assert.Len(t, plan.Steps, 5)
	assert.Len(t, run.WithOutcome(OutcomeCompleted), 5)
	for _, s := range tr.Steps() {
		assert.FileExists(t, filepath.Join(out, s.Base+".out"))
		assert.Equal(t, 1, runCount(t, out, s.Base))
	}

	mapping, plan, run, err = submitBoth(t, tr, e, SigModeDefault)
	require.NoError(t, err)
	assert.Len(t, mapping.WithStatus(storage.StatusUpToDate), 5)
	assert.Empty(t, plan.Steps)
	assert.Empty(t, run.Steps)
	for _, s := range tr.Steps() {
		assert.Equal(t, 1, runCount(t, out, s.Base))
	}
}

func TestLocalEngineForceRerunsEverything(t *testing.T) {
	requireBash(t)
	tr, e := engineFixture(t, diamond(), false)
	_, _, _, err := submitBoth(t, tr, e, SigModeDefault)
	require.NoError(t, err)

	_, plan, run, err := submitBoth(t, tr, e, SigModeForce)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 5)
	assert.Len(t, run.WithOutcome(OutcomeCompleted), 5)
	for _, s := range tr.Steps() {
		assert.Equal(t, 2, runCount(t, tr.runtime.Output, s.Base))
	}
}

func TestLocalEngineSkipAllRunsNothing(t *testing.T) {
	tr, e := engineFixture(t, diamond(), false)
	report, err := e.Submit(context.Background(), tr.MappingPlan(), SubmitOptions{MaxJobs: 1, SigMode: SigModeSkipAll})
	require.NoError(t, err)
	assert.Empty(t, report.Steps)
}

func TestLocalEngineClassifiesZappedOutputs(t *testing.T) {
	requireBash(t)
	tr, e := engineFixture(t, diamond(), false)
	out := tr.runtime.Output
	_, _, _, err := submitBoth(t, tr, e, SigModeDefault)
	require.NoError(t, err)

	b := stepsByModule(tr.Steps())["B"][0]
	outFile := filepath.Join(out, b.Outputs[0])
	require.NoError(t, disposeFile(outFile, RemoveReplace))

	mapping, err := e.Submit(context.Background(), tr.MappingPlan(), SubmitOptions{MaxJobs: 1, SigMode: SigModeDefault})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, mapping.WithStatus(storage.StatusZapped))
}

func TestLocalEngineFailureWithoutBypass(t *testing.T) {
	requireBash(t)
	broken := &script.Module{Name: "broken", Exec: "exit 3", Outputs: []string{"out"}}
	tr, e := engineFixture(t, pipelinesOf([]*script.Module{mod("A", "out"), broken, mod("D", "out")}), false)

	_, _, run, err := submitBoth(t, tr, e, SigModeDefault)
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	require.Len(t, execErr.Steps, 1)
	assert.Equal(t, "broken", run.Steps[execErr.Steps[0]].Module)

	sigs, err := storage.OpenSignatureStore(NewProject(tr.runtime.Output).SignaturePath())
	require.NoError(t, err)
	a := stepsByModule(tr.Steps())["A"][0]
	_, ok := sigs.Get(a.Base)
	assert.True(t, ok, "completed steps keep their signature")
}

func TestLocalEngineFailureWithBypass(t *testing.T) {
	requireBash(t)
	broken := &script.Module{Name: "broken", Exec: "echo boom; exit 3", Outputs: []string{"out"}}
	tr, e := engineFixture(t, pipelinesOf(
		[]*script.Module{mod("A", "out"), broken, mod("D", "out")},
		[]*script.Module{mod("X", "out")},
	), true)
	out := tr.runtime.Output

	_, _, run, err := submitBoth(t, tr, e, SigModeDefault)
	require.NoError(t, err)

	byModule := stepsByModule(tr.Steps())
	bad := byModule["broken"][0]
	assert.Equal(t, OutcomeFailed, run.Steps[bad.ID].Outcome)
	assert.Equal(t, OutcomeMissing, run.Steps[byModule["D"][0].ID].Outcome)
	assert.Equal(t, OutcomeCompleted, run.Steps[byModule["X"][0].ID].Outcome)

	saved, err := os.ReadFile(filepath.Join(out, bad.Base+".failed.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), "exit 3")
	assert.Contains(t, string(saved), "boom")
}

func TestLocalEngineRejectsUnmappedExecution(t *testing.T) {
	tr, e := engineFixture(t, diamond(), false)
	plan := tr.plan(PlanExecution, tr.Steps())
	_, err := e.Submit(context.Background(), plan, SubmitOptions{MaxJobs: 1, SigMode: SigModeDefault})
	assert.ErrorContains(t, err, "no signature")
}

func TestLocalEngineDeclaredOutputMustExist(t *testing.T) {
	requireBash(t)
	lazy := &script.Module{Name: "lazy", Exec: "true", Outputs: []string{"out"}}
	tr, e := engineFixture(t, pipelinesOf([]*script.Module{lazy}), false)

	_, _, _, err := submitBoth(t, tr, e, SigModeDefault)
	assert.ErrorContains(t, err, "was not produced")
}

func TestSavedFailedScriptReplaysExactValues(t *testing.T) {
	requireBash(t)
	out := t.TempDir()
	value := "it's $HOME `id` é \\u00e9 \"q\""
	s := &Step{ID: "abc", Module: "broken", Base: "broken_abc", Command: `printf '%s' "$msg" > "$BENCHFLOW_OUTPUT.replay"`,
		Params: map[string]string{"msg": value}}

	saveFailedScript(out, s, "", errors.New("exit status 3"))
	failed := filepath.Join(out, s.Base+".failed.sh")
	require.NoError(t, exec.Command("bash", failed).Run())

	replayed, err := os.ReadFile(filepath.Join(out, s.Base+".replay"))
	require.NoError(t, err)
	assert.Equal(t, value, string(replayed))
}
