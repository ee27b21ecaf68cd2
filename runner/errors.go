package runner

import (
	"fmt"
	"strings"
)

// ConfigError is an invalid invocation. Nothing has been attempted when it
// is returned.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// RecoveryError reports that results cannot be rebuilt from existing files.
type RecoveryError struct {
	OutputDir string
	Missing   []string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("project cannot be safely recovered because no meta-data can be found under %s (missing %s)",
		e.OutputDir, strings.Join(e.Missing, ", "))
}

// ExecutionError is a step failure that was not bypassed.
type ExecutionError struct {
	Steps []string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for %s: %v", strings.Join(e.Steps, ", "), e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
