package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const benchScript = `
output: results/bench
lib_path: [lib]
exec_path: [bin]
modules:
  simulate:
    exec: ./simulate.sh
    outputs: [data]
    params:
      n: [100, 200]
      sd: 1
  lasso:
    exec: ./fit.sh lasso
    outputs: [fit]
  ridge:
    exec: ./fit.sh ridge
    outputs: [fit]
  score:
    exec: ./score.sh
    outputs: [score, log]
groups:
  methods: [lasso, ridge]
run:
  - simulate * methods * score
`

func parse(t *testing.T, src string, opts LoadOptions) *Script {
	t.Helper()
	s, err := Parse([]byte(src), "/work/bench.yml", opts)
	require.NoError(t, err)
	return s
}

func TestParseBuildsPipelinesFromGroups(t *testing.T) {
	s := parse(t, benchScript, LoadOptions{})

	assert.Equal(t, [][]string{
		{"simulate", "lasso", "score"},
		{"simulate", "ridge", "score"},
	}, s.Captains())
	assert.Equal(t, []string{"simulate", "lasso", "ridge", "score"}, s.Order)
	assert.Equal(t, []string{"simulate", "lasso", "score", "ridge"}, s.Runtime.SequenceOrdering)
	assert.Equal(t, "bench", s.Runtime.Name())
	assert.Equal(t, []string{"/work/lib"}, s.Runtime.LibPath)
	assert.Equal(t, []string{"/work/bin"}, s.Runtime.ExecPath)
}

func TestPipelinesShareModulesByReference(t *testing.T) {
	s := parse(t, benchScript, LoadOptions{})
	require.Len(t, s.Pipelines, 2)
	assert.Same(t, s.Pipelines[0].Modules[0], s.Pipelines[1].Modules[0])
	assert.Equal(t, "score", s.Pipelines[1].Terminal().Name)
	assert.True(t, s.Pipelines[0].Contains("lasso"))
	assert.False(t, s.Pipelines[0].Contains("ridge"))
}

func TestModuleInstancesAreCartesian(t *testing.T) {
	s := parse(t, benchScript, LoadOptions{})
	insts := s.Modules["simulate"].Instances()
	assert.Equal(t, []map[string]string{
		{"n": "100", "sd": "1"},
		{"n": "200", "sd": "1"},
	}, insts)
	assert.Equal(t, []map[string]string{{}}, s.Modules["lasso"].Instances())
}

func TestLoadOptionsOverrideOutputAndSequence(t *testing.T) {
	s := parse(t, benchScript, LoadOptions{
		Output:   "other/out",
		Sequence: []string{"simulate * (lasso, ridge)", "simulate * lasso"},
	})
	assert.Equal(t, "other/out", s.Runtime.Output)
	assert.Equal(t, [][]string{{"simulate", "lasso"}, {"simulate", "ridge"}}, s.Captains())
}

func TestRemovalGroupsMergeConcats(t *testing.T) {
	src := benchScript + `
concats:
  everything: [lasso, ridge, score]
`
	s := parse(t, src, LoadOptions{})
	merged := s.Runtime.RemovalGroups()
	assert.Equal(t, []string{"lasso", "ridge"}, merged["methods"])
	assert.Equal(t, []string{"lasso", "ridge", "score"}, merged["everything"])
}

func TestParseRejectsMalformedScripts(t *testing.T) {
	cases := map[string]string{
		"missing exec": `
modules:
  a: {outputs: [x]}
run: [a]`,
		"missing outputs": `
modules:
  a: {exec: ./a.sh}
run: [a]`,
		"output with path": `
modules:
  a: {exec: ./a.sh, outputs: [dir/x]}
run: [a]`,
		"unknown term": `
modules:
  a: {exec: ./a.sh, outputs: [x]}
run: [a * b]`,
		"group with unknown member": `
modules:
  a: {exec: ./a.sh, outputs: [x]}
groups:
  g: [a, zz]
run: [a]`,
		"no run": `
modules:
  a: {exec: ./a.sh, outputs: [x]}`,
		"repeated module": `
modules:
  a: {exec: ./a.sh, outputs: [x]}
run: [a * a]`,
		"nested param": `
modules:
  a:
    exec: ./a.sh
    outputs: [x]
    params:
      p: [[1, 2]]
run: [a]`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), "/work/bench.yml", LoadOptions{})
			assert.Error(t, err)
		})
	}
}

func TestLoadDefaultsOutputToScriptName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "study.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  a: {exec: ./a.sh, outputs: [x]}
run: [a]
`), 0644))

	s, err := Load(path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "study", s.Runtime.Output)
	assert.Equal(t, dir, s.Dir)
	assert.Contains(t, s.Source, "modules:")
}
