package runner

import (
	"fmt"
	"io"
	"time"
)

// SigMode tells the job engine how to treat existing results.
type SigMode string

const (
	SigModeDefault SigMode = "default"  // skip steps whose signature is unchanged
	SigModeForce   SigMode = "force"    // recompute everything
	SigModeSkipAll SigMode = "skip-all" // run nothing, trust existing results
)

// SigModeFromSkip maps the user-facing skip option onto a signature mode.
func SigModeFromSkip(skip string) (SigMode, error) {
	switch skip {
	case "", "default":
		return SigModeDefault, nil
	case "none":
		return SigModeForce, nil
	case "all":
		return SigModeSkipAll, nil
	default:
		return "", &ConfigError{Msg: fmt.Sprintf("unknown skip option %q (want default, none or all)", skip)}
	}
}

// RemoveMode selects how invalidated outputs are disposed of.
type RemoveMode string

const (
	RemoveNone    RemoveMode = ""
	RemovePurge   RemoveMode = "purge"
	RemoveReplace RemoveMode = "replace"
)

// ParseRemoveMode validates the user-facing remove option.
func ParseRemoveMode(s string) (RemoveMode, error) {
	switch RemoveMode(s) {
	case RemoveNone, RemovePurge, RemoveReplace:
		return RemoveMode(s), nil
	default:
		return "", &ConfigError{Msg: fmt.Sprintf("unknown remove option %q (want purge or replace)", s)}
	}
}

// Options configures one invocation of Execute.
type Options struct {
	ScriptPath   string
	Output       string   // overrides the script's output directory
	Targets      []string // run sequences, or removal targets when Remove is set
	Replicates   int
	Skip         string // "default", "none" or "all"
	Remove       RemoveMode
	MaxJobs      int
	IgnoreErrors bool
	Debug        bool // write plans and stop before execution; dry-run removals
	Verbosity    int
	Stdout       io.Writer // module output stream, used when Verbosity > 2
	Engine       Engine    // defaults to a LocalEngine
}

func (o Options) validate() error {
	if o.ScriptPath == "" {
		return &ConfigError{Msg: "a benchmark script is required"}
	}
	if o.Remove != RemoveNone && len(o.Targets) == 0 {
		return &ConfigError{Msg: "--remove must be specified with --target"}
	}
	if o.Replicates < 1 {
		return &ConfigError{Msg: fmt.Sprintf("replicates must be at least 1, got %d", o.Replicates)}
	}
	if o.MaxJobs < 1 {
		return &ConfigError{Msg: fmt.Sprintf("number of jobs must be at least 1, got %d", o.MaxJobs)}
	}
	return nil
}

// Result summarizes one invocation of Execute.
type Result struct {
	Mode     SigMode       `json:"mode"`
	Planned  int           `json:"planned"`  // steps in the mapping plan
	Executed int           `json:"executed"` // steps in the execution plan
	Failed   []string      `json:"failed,omitempty"`
	Removed  []string      `json:"removed,omitempty"`
	RunID    string        `json:"run_id,omitempty"`
	Duration time.Duration `json:"duration"`
}
