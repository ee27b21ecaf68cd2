package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"benchflow/ctxlog"
	"benchflow/events"
	"benchflow/runner/storage"
)

// SubmitOptions configures one plan submission.
type SubmitOptions struct {
	MaxJobs int
	SigMode SigMode
	BinDirs []string
}

// StepReport is the engine's account of one step.
type StepReport struct {
	ID        string        `json:"id"`
	Module    string        `json:"module"`
	Base      string        `json:"base"`
	Signature string        `json:"signature"`
	Status    string        `json:"status"`            // mapping classification
	Outcome   string        `json:"outcome,omitempty"` // execution result
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Report collects the engine's step reports for one submission.
type Report struct {
	Kind  PlanKind               `json:"kind"`
	Steps map[string]*StepReport `json:"steps"`
}

// WithOutcome returns the IDs of steps that ended with the given outcome, sorted.
func (r *Report) WithOutcome(outcome string) []string {
	var ids []string
	for id, sr := range r.Steps {
		if sr.Outcome == outcome {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// WithStatus returns the IDs of steps classified with the given status, sorted.
func (r *Report) WithStatus(status string) []string {
	var ids []string
	for id, sr := range r.Steps {
		if sr.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Engine runs plans. A mapping plan is only classified; an execution plan is run.
type Engine interface {
	Submit(ctx context.Context, plan *Plan, opts SubmitOptions) (*Report, error)
}

// LocalEngine runs plans on this machine with bash.
type LocalEngine struct {
	Stream io.Writer // receives module output when set
	Broker *events.EventBroker
}

// NewLocalEngine creates an engine that reports progress on the global broker.
func NewLocalEngine(stream io.Writer) *LocalEngine {
	return &LocalEngine{Stream: stream, Broker: events.GetBroker()}
}

// Submit implements Engine.
func (e *LocalEngine) Submit(ctx context.Context, plan *Plan, opts SubmitOptions) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	report := &Report{Kind: plan.Kind, Steps: make(map[string]*StepReport, len(plan.Steps))}
	if opts.SigMode == SigModeSkipAll {
		logger.Debug("Signature mode skips all steps.", "plan", plan.Kind)
		return report, nil
	}

	project := NewProject(plan.OutputDir)
	sigs, err := storage.OpenSignatureStore(project.SignaturePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open signature store: %w", err)
	}

	e.broadcast(events.PhaseStarted, map[string]any{"plan": plan.Kind, "steps": len(plan.Steps)})
	defer e.broadcast(events.PhaseFinished, map[string]any{"plan": plan.Kind})

	switch plan.Kind {
	case PlanMapping:
		e.mapSteps(plan, opts, sigs, report)
		return report, nil
	case PlanExecution:
		return e.execute(ctx, plan, opts, sigs, report)
	default:
		return nil, fmt.Errorf("unknown plan kind %q", plan.Kind)
	}
}

func (e *LocalEngine) mapSteps(plan *Plan, opts SubmitOptions, sigs *storage.SignatureStore, report *Report) {
	computed := make(map[string]string, len(plan.Steps))
	for _, s := range plan.Steps {
		upstream := make([]string, 0, len(s.Depends))
		for _, dep := range s.Depends {
			upstream = append(upstream, computed[dep])
		}
		sig := stepSignature(s, plan.WorkDir, upstream)
		computed[s.ID] = sig
		report.Steps[s.ID] = &StepReport{
			ID:        s.ID,
			Module:    s.Module,
			Base:      s.Base,
			Signature: sig,
			Status:    classify(plan.OutputDir, s, sig, sigs, opts.SigMode),
		}
	}
}

func (e *LocalEngine) execute(ctx context.Context, plan *Plan, opts SubmitOptions, sigs *storage.SignatureStore, report *Report) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	for _, s := range plan.Steps {
		if s.Signature == "" {
			return nil, fmt.Errorf("step %s_%s has no signature; the mapping phase must run first", s.Module, s.ID)
		}
		report.Steps[s.ID] = &StepReport{ID: s.ID, Module: s.Module, Base: s.Base, Signature: s.Signature}
	}

	sched := newScheduler(plan, opts.MaxJobs, func(ctx context.Context, s *Step) error {
		sr := report.Steps[s.ID]
		start := time.Now()
		err := e.runStep(ctx, plan, s, opts, sigs)
		sr.Duration = time.Since(start)
		return err
	})
	runErr := sched.Run(ctx)

	for id, outcome := range sched.Outcomes() {
		sr := report.Steps[id]
		sr.Outcome = outcome
		if err := sched.Err(id); err != nil {
			sr.Error = err.Error()
		}
		if outcome == OutcomeFailed || outcome == OutcomeMissing {
			sigs.Delete(sr.Base)
		}
	}
	if err := sigs.Save(); err != nil {
		return nil, fmt.Errorf("failed to save signatures: %w", err)
	}

	if runErr != nil {
		failed := report.WithOutcome(OutcomeFailed)
		logger.Error("❌ Execution aborted.", "failed", failed, "error", runErr)
		return report, &ExecutionError{Steps: failed, Err: runErr}
	}
	return report, nil
}

func (e *LocalEngine) runStep(ctx context.Context, plan *Plan, s *Step, opts SubmitOptions, sigs *storage.SignatureStore) error {
	logger := ctxlog.FromContext(ctx).With("step", s.ID, "module", s.Module)
	payload := map[string]any{"step": s.ID, "module": s.Module, "base": s.Base}

	if classify(plan.OutputDir, s, s.Signature, sigs, opts.SigMode) == storage.StatusUpToDate {
		logger.Log(ctx, ctxlog.LevelTrace, "Step signature unchanged, skipping.")
		e.broadcast(events.StepSkipped, payload)
		return errStepSkipped
	}

	if err := ensureDir(filepath.Dir(filepath.Join(plan.OutputDir, s.Base))); err != nil {
		return err
	}

	logger.Debug("→ Running step", "command", s.Command)
	e.broadcast(events.StepStarted, payload)

	output, err := executeShellCommand(ctx, s.Command, plan.WorkDir, s.env(absOrSelf(plan.OutputDir)), opts.BinDirs, e.Stream)
	if err == nil {
		err = verifyOutputs(plan.OutputDir, s)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if plan.IgnoreErrors {
			saveFailedScript(plan.OutputDir, s, output, err)
		}
		e.broadcast(events.StepFailed, map[string]any{"step": s.ID, "module": s.Module, "error": err.Error()})
		logger.Debug("Step output", "output", output)
		return err
	}

	for _, out := range s.Outputs {
		_ = os.Remove(filepath.Join(plan.OutputDir, out) + ZappedSuffix)
	}
	sigs.Set(s.Base, s.Signature)
	logger.Debug("✅ Done")
	e.broadcast(events.StepCompleted, payload)
	return nil
}

func (e *LocalEngine) broadcast(eventType string, data any) {
	if e.Broker != nil {
		e.Broker.Broadcast(eventType, data)
	}
}

func verifyOutputs(outputDir string, s *Step) error {
	for _, out := range s.Outputs {
		if _, err := os.Stat(filepath.Join(outputDir, out)); err != nil {
			return fmt.Errorf("declared output %s was not produced", out)
		}
	}
	return nil
}

// saveFailedScript keeps the command and its output next to the missing
// result so the failure can be reproduced.
func saveFailedScript(outputDir string, s *Step, output string, runErr error) {
	var b []byte
	b = fmt.Appendf(b, "#!/usr/bin/env bash\n# %s_%s failed: %v\n", s.Module, s.ID, runErr)
	for _, kv := range s.env(absOrSelf(outputDir)) {
		name, value, _ := strings.Cut(kv, "=")
		b = fmt.Appendf(b, "export %s=%s\n", name, shellQuote(value))
	}
	b = fmt.Appendf(b, "%s\n", s.Command)
	if output != "" {
		b = fmt.Appendf(b, "\n: <<'OUTPUT'\n%sOUTPUT\n", output)
	}
	_ = os.WriteFile(filepath.Join(outputDir, s.Base)+".failed.sh", b, 0755)
}

// shellQuote single-quotes v so bash reads it back byte for byte.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func absOrSelf(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
