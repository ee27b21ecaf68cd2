package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"benchflow/ctxlog"
	"benchflow/runner"
)

type runFlags struct {
	output       string
	targets      []string
	replicates   int
	skip         string
	remove       string
	jobs         int
	ignoreErrors bool
	verbosity    int
	logFormat    string
	debug        bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.output, "output", "o", "", "Benchmark output directory, overrides the script's output.")
	fs.StringArrayVar(&f.targets, "target", nil, `Without --remove: pipeline sequences to run instead of the script's run list.
With --remove: modules, groups or output files whose results are removed.`)
	fs.IntVar(&f.replicates, "replicates", 1, "Number of replicates executed for every pipeline.")
	fs.StringVar(&f.skip, "skip", "default", `How existing results are reused: "default" skips unchanged steps,
"none" recomputes everything, "all" runs nothing and rebuilds the database from existing results.`)
	fs.StringVar(&f.remove, "remove", "", `Remove the outputs selected by --target: "purge" deletes them,
"replace" swaps them for empty *.zapped files so dependent results stay valid.`)
	fs.IntVarP(&f.jobs, "jobs", "c", getEnvInt("BENCHFLOW_JOBS", defaultJobs()), "Maximum number of concurrent jobs.")
	fs.BoolVar(&f.ignoreErrors, "ignore-errors", false, "Keep running when a module fails; its outputs are recorded as missing.")
	fs.IntVarP(&f.verbosity, "verbosity", "v", getEnvInt("BENCHFLOW_VERBOSITY", 2), "Output error (0), warning (1), info (2), debug (3) and trace (4) information.")
	fs.StringVar(&f.logFormat, "log-format", getEnv("BENCHFLOW_LOG_FORMAT", "text"), "Log output format: 'text' or 'json'.")
	fs.BoolVar(&f.debug, "debug", false, "Write the plans without executing them; dry-run removals.")
	_ = fs.MarkHidden("debug")
}

// runBenchmark executes the benchmark described by scriptPath
func runBenchmark(ctx context.Context, scriptPath string, f *runFlags, outW, errW io.Writer) error {
	logger, err := newLogger(f.verbosity, f.logFormat, errW)
	if err != nil {
		return err
	}
	ctx = ctxlog.WithLogger(ctx, logger)

	remove, err := runner.ParseRemoveMode(f.remove)
	if err != nil {
		return err
	}

	result, err := runner.Execute(ctx, runner.Options{
		ScriptPath:   scriptPath,
		Output:       f.output,
		Targets:      splitTargets(f.targets),
		Replicates:   f.replicates,
		Skip:         f.skip,
		Remove:       remove,
		MaxJobs:      f.jobs,
		IgnoreErrors: f.ignoreErrors,
		Debug:        f.debug,
		Verbosity:    f.verbosity,
		Stdout:       outW,
	})
	if err != nil {
		return err
	}

	if f.verbosity > 0 {
		switch {
		case remove != runner.RemoveNone:
			fmt.Fprintf(outW, "\n🧹 %s: %d file(s)\n", remove, len(result.Removed))
		default:
			fmt.Fprintf(outW, "\n📊 Run ID: %s | Mode: %s | Steps: %d planned, %d executed, %d failed | Duration: %s\n",
				orDash(result.RunID), result.Mode, result.Planned, result.Executed, len(result.Failed), result.Duration)
		}
	}
	return nil
}

// splitTargets accepts both repeated --target flags and space separated
// module lists. Pipeline sequences containing "*" are kept whole.
func splitTargets(targets []string) []string {
	var out []string
	for _, t := range targets {
		if strings.Contains(t, "*") {
			out = append(out, strings.TrimSpace(t))
			continue
		}
		out = append(out, strings.Fields(t)...)
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
