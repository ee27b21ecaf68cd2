package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"benchflow/ctxlog"
	"benchflow/runner/storage"
)

// Driver submits the two plans of a build to an Engine and keeps the
// persisted project state in step with what ran.
type Driver struct {
	Engine  Engine
	MaxJobs int
	BinDirs []string
}

// Prepare submits the mapping plan and persists the map and io artifacts.
// The returned report feeds Translator.FilterExecution.
func (d *Driver) Prepare(ctx context.Context, t *Translator, project Project, mode SigMode) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	plan := t.MappingPlan()

	logger.Info("🗺️  Mapping pipelines", "steps", len(plan.Steps), "mode", mode)
	report, err := d.Engine.Submit(ctx, plan, SubmitOptions{MaxJobs: d.MaxJobs, SigMode: mode, BinDirs: d.BinDirs})
	if err != nil {
		return nil, fmt.Errorf("mapping phase failed: %w", err)
	}

	if err := ensureDir(project.OutputDir); err != nil {
		return nil, err
	}
	artifact := &storage.MapArtifact{CreatedAt: time.Now().UTC(), Steps: make(map[string]storage.MapEntry, len(report.Steps))}
	for id, sr := range report.Steps {
		artifact.Steps[id] = storage.MapEntry{Module: sr.Module, Base: sr.Base, Signature: sr.Signature, Status: sr.Status}
	}
	if err := storage.WriteMapArtifact(project.MapPath(), artifact); err != nil {
		return nil, fmt.Errorf("failed to write map artifact: %w", err)
	}
	if err := storage.WriteIOArtifact(project.IOPath(), t.IOArtifact()); err != nil {
		return nil, fmt.Errorf("failed to write io artifact: %w", err)
	}

	logger.Debug("Mapping done",
		"stale", len(report.WithStatus(storage.StatusStale)),
		"zapped", len(report.WithStatus(storage.StatusZapped)),
		"up_to_date", len(report.WithStatus(storage.StatusUpToDate)))
	return report, nil
}

// Run submits the execution plan. Any error returned by the engine is fatal
// for the invocation. Per-step failures bypassed by the plan are recorded as
// missing outputs in the Output Record store. A fatal step failure still
// records what completed before the plan aborted, so the partial results can
// be recovered with --skip all.
func (d *Driver) Run(ctx context.Context, plan *Plan, project Project, mode SigMode) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("🚀 Running pipelines", "steps", len(plan.Steps), "jobs", d.MaxJobs, "ignore_errors", plan.IgnoreErrors)

	report, err := d.Engine.Submit(ctx, plan, SubmitOptions{MaxJobs: d.MaxJobs, SigMode: mode, BinDirs: d.BinDirs})
	var execErr *ExecutionError
	if errors.As(err, &execErr) && report != nil {
		if uerr := d.updateOutputs(ctx, project, report); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return report, err
	}
	if err != nil {
		return report, err
	}

	if err := d.updateOutputs(ctx, project, report); err != nil {
		return report, err
	}
	if failed := report.WithOutcome(OutcomeFailed); len(failed) > 0 {
		logger.Warn("⚠️  Some steps failed and were bypassed", "steps", failed,
			"missing", len(report.WithOutcome(OutcomeMissing)))
	}
	return report, nil
}

// updateOutputs overwrites the whole record of every module that executed in
// this pass and creates records for modules that have none yet.
func (d *Driver) updateOutputs(ctx context.Context, project Project, report *Report) error {
	store, err := storage.OpenOutputStore(project.OutputStorePath())
	if err != nil {
		return fmt.Errorf("failed to open output store: %w", err)
	}
	bindings, err := storage.ReadIOArtifact(project.IOPath())
	if err != nil {
		return fmt.Errorf("failed to read io artifact: %w", err)
	}

	ran := map[string]bool{}
	for _, sr := range report.Steps {
		if sr.Outcome != "" && sr.Outcome != OutcomeSkipped && sr.Outcome != OutcomeCancelled {
			ran[sr.Module] = true
		}
	}

	records := map[string]*storage.OutputRecord{}
	var order []string
	for _, s := range bindings.Steps {
		if !ran[s.Module] && store.Has(s.Module) {
			continue
		}
		rec, ok := records[s.Module]
		if !ok {
			rec = &storage.OutputRecord{}
			records[s.Module] = rec
			order = append(order, s.Module)
		}
		rec.File = append(rec.File, s.Base)
		rec.Instances = append(rec.Instances, storage.OutputInstance{
			File:      s.Base,
			StepID:    s.ID,
			Params:    s.Params,
			Replicate: s.Replicate,
			Depends:   s.Depends,
			Outputs:   s.Outputs,
			Status:    instanceStatus(project.OutputDir, s),
		})
	}

	for _, module := range order {
		if err := store.Put(module, *records[module]); err != nil {
			return fmt.Errorf("failed to record outputs: %w", err)
		}
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("failed to save output store: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("Output records updated", "modules", order)
	return nil
}

func instanceStatus(outputDir string, s storage.IOStep) string {
	missing, zapped := outputState(outputDir, &Step{Outputs: s.Outputs})
	switch {
	case missing > 0:
		return storage.OutputMissing
	case zapped > 0:
		return storage.OutputZapped
	default:
		return storage.OutputOK
	}
}
