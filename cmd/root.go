package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"benchflow/ctxlog"
	"benchflow/runner"
)

// ExitError is an error that carries the process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Execute parses args and runs the selected command. Errors are returned as
// *ExitError.
func Execute(ctx context.Context, args []string, outW, errW io.Writer) error {
	// Load .env file if it exists (ignore errors if it doesn't)
	_ = godotenv.Load()

	if args == nil {
		args = []string{}
	}
	root := NewRootCmd(outW, errW)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return toExitError(err)
	}
	return nil
}

// NewRootCmd builds the command tree. Flag defaults come from the environment.
func NewRootCmd(outW, errW io.Writer) *cobra.Command {
	flags := &runFlags{}
	root := &cobra.Command{
		Use:   "benchflow SCRIPT",
		Short: "Run, invalidate and consolidate benchmark pipelines",
		Long: `benchflow compiles the modules and pipelines of a benchmark script into a
build plan, runs it with incremental reuse of earlier results and consolidates
the outputs into one queryable database.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd.Context(), args[0], flags, outW, errW)
		},
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Message: err.Error()}
	})
	flags.register(root)

	root.AddCommand(newServeCmd(outW, errW))
	return root
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &ExitError{Code: 2, Message: fmt.Sprintf("%s: expected %d argument(s), got %d\nUsage: %s", cmd.Name(), n, len(args), cmd.UseLine())}
		}
		return nil
	}
}

func toExitError(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	var cfgErr *runner.ConfigError
	var recErr *runner.RecoveryError
	if errors.As(err, &cfgErr) || errors.As(err, &recErr) {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return &ExitError{Code: 1, Message: err.Error()}
}

func newLogger(verbosity int, format string, w io.Writer) (*slog.Logger, error) {
	if format != "text" && format != "json" {
		return nil, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	if verbosity < 0 || verbosity > 4 {
		return nil, &ExitError{Code: 2, Message: fmt.Sprintf("invalid verbosity %d: must be between 0 and 4", verbosity)}
	}
	return ctxlog.New(verbosity, format, w), nil
}

func defaultJobs() int {
	return max(runtime.NumCPU()/2, 1)
}

// getEnv gets environment variable or returns default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return n
}
