package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputStorePutSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.db")

	store, err := OpenOutputStore(path)
	require.NoError(t, err)
	assert.Empty(t, store.Modules())

	rec := OutputRecord{
		File: []string{"B/B_1"},
		Instances: []OutputInstance{{
			File: "B/B_1", StepID: "1", Replicate: 1, Status: OutputOK,
			Params: map[string]string{"k": "v"}, Outputs: []string{"B/B_1.rds"},
		}},
	}
	require.NoError(t, store.Put("B", rec))
	require.NoError(t, store.Save())

	loaded, err := LoadOutputStore(path)
	require.NoError(t, err)
	got, ok := loaded.Get("B")
	require.True(t, ok)
	assert.Equal(t, []string{"B/B_1"}, got.File)
	assert.Equal(t, "v", got.Instances[0].Params["k"])
	assert.True(t, loaded.Has("B"))
	assert.False(t, loaded.Has("C"))
}

func TestLoadOutputStoreMissingFile(t *testing.T) {
	_, err := LoadOutputStore(filepath.Join(t.TempDir(), "none.db"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOutputStoreRejectsMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.db")
	store, err := OpenOutputStore(path)
	require.NoError(t, err)

	assert.Error(t, store.Put("B", OutputRecord{}))
	assert.Error(t, store.Put("B", OutputRecord{File: []string{""}}))

	require.NoError(t, writeMsgpack(path, map[string]OutputRecord{"B": {}}))
	_, err = LoadOutputStore(path)
	assert.ErrorContains(t, err, "malformed output store")
}

func TestArtifactsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	io := &IOArtifact{
		Steps: []IOStep{{ID: "a1", Module: "A", Base: "A/A_a1"}, {ID: "b1", Module: "B", Base: "B/B_b1", Depends: []string{"a1"}}},
		Instances: []PipelineInstance{{Captain: []string{"A", "B"}, Replicate: 1, Steps: []string{"a1", "b1"}}},
	}
	require.NoError(t, WriteIOArtifact(filepath.Join(dir, "x.io.mpk"), io))

	loaded, err := ReadIOArtifact(filepath.Join(dir, "x.io.mpk"))
	require.NoError(t, err)
	assert.Equal(t, io.Instances, loaded.Instances)
	assert.Equal(t, "B/B_b1", loaded.StepByID()["b1"].Base)

	m := &MapArtifact{Steps: map[string]MapEntry{"a1": {Module: "A", Base: "A/A_a1", Signature: "s", Status: StatusStale}}}
	require.NoError(t, WriteMapArtifact(filepath.Join(dir, "x.map.mpk"), m))
	lm, err := ReadMapArtifact(filepath.Join(dir, "x.map.mpk"))
	require.NoError(t, err)
	assert.Equal(t, m.Steps, lm.Steps)
}

func TestSignatureStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.sig.mpk")
	sigs, err := OpenSignatureStore(path)
	require.NoError(t, err)

	sigs.Set("A/A_1", "abc")
	sigs.Set("A/A_2", "def")
	sigs.Delete("A/A_2")
	require.NoError(t, sigs.Save())

	reloaded, err := OpenSignatureStore(path)
	require.NoError(t, err)
	sig, ok := reloaded.Get("A/A_1")
	assert.True(t, ok)
	assert.Equal(t, "abc", sig)
	_, ok = reloaded.Get("A/A_2")
	assert.False(t, ok)
}
