package runner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// PlanKind distinguishes the two phases of a build.
type PlanKind string

const (
	PlanMapping   PlanKind = "mapping"   // resolve bindings and signatures, run nothing
	PlanExecution PlanKind = "execution" // run the steps that must run
)

// Step is one module invocation: a module, one parameter instance and one
// upstream chain.
type Step struct {
	ID        string
	Module    string
	Command   string
	Params    map[string]string
	Replicate int
	Depends   []string // upstream step IDs
	Base      string   // output base, relative to the output directory
	Outputs   []string // output files, relative to the output directory
	Inputs    []string // upstream output files, relative to the output directory
	Signature string   // filled in from the mapping report by FilterExecution
}

// Plan is an ordered set of steps handed to the job engine. Steps are in
// topological order: every step comes after the steps it depends on.
type Plan struct {
	Kind         PlanKind
	Name         string
	OutputDir    string
	WorkDir      string
	Steps        []*Step
	IgnoreErrors bool
}

// Render returns the textual plan body.
func (p *Plan) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s plan for %s (%d steps)\n", p.Kind, p.Name, len(p.Steps))
	fmt.Fprintf(&b, "# output: %s\n", p.OutputDir)
	if p.IgnoreErrors {
		b.WriteString("# errors: ignored\n")
	}
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "\n[%s_%s]\n", s.Module, s.ID)
		if len(s.Depends) > 0 {
			fmt.Fprintf(&b, "depends: %s\n", strings.Join(s.Depends, ", "))
		}
		if len(s.Params) > 0 {
			keys := make([]string, 0, len(s.Params))
			for k := range s.Params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "param: %s=%s\n", k, s.Params[k])
			}
		}
		fmt.Fprintf(&b, "replicate: %d\n", s.Replicate)
		for _, in := range s.Inputs {
			fmt.Fprintf(&b, "input: %s\n", in)
		}
		for _, out := range s.Outputs {
			fmt.Fprintf(&b, "output: %s\n", out)
		}
		if s.Signature != "" {
			fmt.Fprintf(&b, "signature: %s\n", s.Signature)
		}
		if p.Kind == PlanExecution {
			fmt.Fprintf(&b, "run: %s\n", s.Command)
		}
	}
	return b.String()
}

// env returns the environment bindings of a step for the given output directory.
func (s *Step) env(outputDir string) []string {
	vars := []string{
		"BENCHFLOW_MODULE=" + s.Module,
		"BENCHFLOW_OUTPUT=" + filepath.Join(outputDir, s.Base),
		fmt.Sprintf("BENCHFLOW_REPLICATE=%d", s.Replicate),
	}
	if len(s.Inputs) > 0 {
		abs := make([]string, len(s.Inputs))
		for i, in := range s.Inputs {
			abs[i] = filepath.Join(outputDir, in)
		}
		vars = append(vars, "BENCHFLOW_INPUTS="+strings.Join(abs, " "))
		in := strings.TrimSuffix(s.Inputs[0], filepath.Ext(s.Inputs[0]))
		vars = append(vars, "BENCHFLOW_INPUT="+filepath.Join(outputDir, in))
	}
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vars = append(vars, k+"="+s.Params[k])
	}
	return vars
}
