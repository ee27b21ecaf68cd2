package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"benchflow/ctxlog"
	"benchflow/script"
)

// Execute runs one invocation: an invalidation when opts.Remove is set, a
// recovery of the result database with skip "all", and otherwise a two-phase
// build followed by consolidation.
func Execute(ctx context.Context, opts Options) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	if err := opts.validate(); err != nil {
		return nil, err
	}
	mode, err := SigModeFromSkip(opts.Skip)
	if err != nil {
		return nil, err
	}

	load := script.LoadOptions{Output: opts.Output}
	if opts.Remove == RemoveNone && len(opts.Targets) > 0 {
		logger.Info("Loading command line sequence", "targets", opts.Targets)
		load.Sequence = opts.Targets
	}
	s, err := script.Load(opts.ScriptPath, load)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return nil, err
		}
		return nil, &ConfigError{Msg: err.Error()}
	}
	rt := s.Runtime
	project := NewProject(rt.Output)
	result := &Result{Mode: mode}

	translator, err := NewTranslator(s.Pipelines, rt, s.Dir, TranslatorOptions{
		Replicates:   opts.Replicates,
		Force:        mode == SigModeForce,
		MaxJobs:      opts.MaxJobs,
		IgnoreErrors: opts.IgnoreErrors,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("Pipelines translated", "summary", translator.String())

	if opts.Remove != RemoveNone {
		removed, err := Remove(ctx, RemoveRequest{
			Pipelines: s.Pipelines,
			Groups:    rt.RemovalGroups(),
			Targets:   opts.Targets,
			OutputDir: rt.Output,
			Mode:      opts.Remove,
			DryRun:    opts.Debug,
		})
		if err != nil {
			return nil, err
		}
		result.Removed = removed.Files
		result.Duration = time.Since(start)
		return result, nil
	}

	html, err := ExportProvenance(s, project)
	if err != nil {
		return nil, err
	}
	logger.Info("Script exported", "path", html)

	if mode == SigModeSkipAll {
		if err := project.ValidateRecovery(); err != nil {
			return nil, err
		}
		logger.Info("♻️  Recovering results from existing files", "output", rt.Output)
		runID, err := consolidate(ctx, s, project, mode)
		if err != nil {
			return nil, err
		}
		result.RunID = runID
		result.Duration = time.Since(start)
		return result, nil
	}

	engine := opts.Engine
	if engine == nil {
		var stream io.Writer
		if opts.Verbosity > 2 {
			stream = opts.Stdout
		}
		engine = NewLocalEngine(stream)
	}
	driver := &Driver{Engine: engine, MaxJobs: opts.MaxJobs, BinDirs: BinDirs(rt.ExecPath)}

	logger.Info("Constructing benchmark", "script", opts.ScriptPath)
	report, err := driver.Prepare(ctx, translator, project, mode)
	if err != nil {
		return nil, err
	}
	result.Planned = len(translator.Steps())

	translator.FilterExecution(report)
	plan, err := translator.ExecutionPlan()
	if err != nil {
		return nil, err
	}
	result.Executed = len(plan.Steps)

	if opts.Debug {
		if err := writePlans(project, translator.MappingPlan(), plan); err != nil {
			return nil, err
		}
		logger.Info("Plans written", "dir", project.PlanDir())
		result.Duration = time.Since(start)
		return result, nil
	}

	runReport, err := driver.Run(ctx, plan, project, mode)
	if err != nil {
		return nil, err
	}
	result.Failed = runReport.WithOutcome(OutcomeFailed)

	logger.Info("Building result database")
	runID, err := consolidate(ctx, s, project, mode)
	if err != nil {
		return nil, err
	}
	result.RunID = runID
	result.Duration = time.Since(start)
	logger.Info("🏁 Benchmark complete", "duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

func consolidate(ctx context.Context, s *script.Script, project Project, mode SigMode) (string, error) {
	source, err := os.ReadFile(project.HTMLPath())
	if err != nil {
		return "", fmt.Errorf("failed to read provenance: %w", err)
	}
	rdb := NewResultDB(project.Prefix(), MasterNames(s.Pipelines), s.Captains())
	rdb.Mode = mode
	db, err := rdb.Build(ctx, string(source), s.Runtime.Groups)
	if err != nil {
		return "", err
	}
	return db.RunID, nil
}

func writePlans(project Project, plans ...*Plan) error {
	if err := ensureDir(project.PlanDir()); err != nil {
		return err
	}
	for _, p := range plans {
		path := filepath.Join(project.PlanDir(), fmt.Sprintf("%s.%s.plan", project.Name, p.Kind))
		if err := os.WriteFile(path, []byte(p.Render()), 0644); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
	}
	return nil
}
