package runner

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"benchflow/script"
)

// touchModule writes a command that logs each run and produces every target.
func touchModule(targets ...string) string {
	cmd := `echo run >> "$BENCHFLOW_OUTPUT.log"`
	for _, t := range targets {
		cmd += `; echo "$BENCHFLOW_REPLICATE $BENCHFLOW_INPUTS" > "$BENCHFLOW_OUTPUT.` + t + `"`
	}
	return cmd
}

func mod(name string, outputs ...string) *script.Module {
	return &script.Module{Name: name, Exec: touchModule(outputs...), Outputs: outputs}
}

func pipelinesOf(seqs ...[]*script.Module) []script.Pipeline {
	out := make([]script.Pipeline, len(seqs))
	for i, s := range seqs {
		out[i] = script.Pipeline{Modules: s}
	}
	return out
}

// diamond returns the pipelines [A,B,D] and [A,C,D].
func diamond() []script.Pipeline {
	a, b, c, d := mod("A", "out"), mod("B", "out"), mod("C", "out"), mod("D", "out")
	return pipelinesOf([]*script.Module{a, b, d}, []*script.Module{a, c, d})
}

const diamondScript = `
modules:
  A:
    exec: 'echo run >> "$BENCHFLOW_OUTPUT.log"; echo "$BENCHFLOW_REPLICATE" > "$BENCHFLOW_OUTPUT.out"'
    outputs: [out]
  B:
    exec: 'echo run >> "$BENCHFLOW_OUTPUT.log"; cat $BENCHFLOW_INPUTS > "$BENCHFLOW_OUTPUT.out"'
    outputs: [out]
  C:
    exec: 'echo run >> "$BENCHFLOW_OUTPUT.log"; cat $BENCHFLOW_INPUTS > "$BENCHFLOW_OUTPUT.out"'
    outputs: [out]
  D:
    exec: 'echo run >> "$BENCHFLOW_OUTPUT.log"; cat $BENCHFLOW_INPUTS > "$BENCHFLOW_OUTPUT.out"'
    outputs: [out]
  broken:
    exec: 'echo boom >&2; exit 3'
    outputs: [out]
groups:
  middle: [B, C]
run:
  - A * middle * D
`

// writeScript stores src as bench.yml in a fresh directory and returns the
// script path and the output directory to use.
func writeScript(t *testing.T, src string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path, filepath.Join(dir, "bench")
}

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

// runCount reads how many times the step with the given output base ran.
func runCount(t *testing.T, outputDir, base string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outputDir, base) + ".log")
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "run\n")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
