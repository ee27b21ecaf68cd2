package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"benchflow/ctxlog"
	"benchflow/runner/storage"
	"benchflow/script"
)

// Database is the consolidated view of a benchmark's results.
type Database struct {
	RunID     string
	Script    string
	Groups    map[string][]string
	Keys      []string                         // pipeline keys, first occurrence order
	Pipelines map[string][][]string            // key -> captain sequences
	Instances map[string][]storage.InstanceRow // key -> executed replicates
	Outputs   map[string]storage.OutputRecord  // module -> output record
}

// ResultDB consolidates the Output Record store and the io artifact of a
// project into one database keyed by pipeline identity.
type ResultDB struct {
	prefix    string
	master    map[string]bool
	pipelines map[string]bool
	Mode      SigMode
}

// NewResultDB prepares a consolidation of the state stored under prefix
// (<output>/<B>). master holds the terminal module names to keep and
// pipelines the captain sequences of the current module graph.
func NewResultDB(prefix string, master []string, pipelines [][]string) *ResultDB {
	r := &ResultDB{
		prefix:    prefix,
		master:    make(map[string]bool, len(master)),
		pipelines: make(map[string]bool, len(pipelines)),
		Mode:      SigModeDefault,
	}
	for _, m := range master {
		r.master[m] = true
	}
	for _, p := range pipelines {
		r.pipelines[captainKey(p)] = true
	}
	return r
}

// MasterNames returns the distinct terminal modules of the pipelines in
// first-occurrence order.
func MasterNames(pipelines []script.Pipeline) []string {
	var names []string
	for _, p := range pipelines {
		if t := p.Terminal(); t != nil {
			names = append(names, t.Name)
		}
	}
	return uniq(names)
}

// PipelineKey is the storage key of all pipelines ending in terminal.
func PipelineKey(terminal string) string { return "pipeline_" + terminal }

func captainKey(captain []string) string { return strings.Join(captain, "\x00") }

// Build assembles the database from the persisted artifacts and writes it
// to <prefix>.sqlite. source is archived verbatim as provenance.
func (r *ResultDB) Build(ctx context.Context, source string, groups map[string][]string) (*Database, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	bindings, err := storage.ReadIOArtifact(r.prefix + ".io.mpk")
	if err != nil {
		return nil, fmt.Errorf("failed to read io artifact: %w", err)
	}
	store, err := storage.LoadOutputStore(r.prefix + ".db")
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no output records found at %s: no step has completed yet", r.prefix+".db")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load output store: %w", err)
	}

	db, err := r.assemble(ctx, bindings, store)
	if err != nil {
		return nil, err
	}
	db.Script = source
	db.Groups = groups

	results, err := storage.NewStorage(r.prefix + ".sqlite")
	if err != nil {
		return nil, err
	}
	defer results.Close()

	sum := sha256.Sum256([]byte(source))
	run, err := results.CreateRun(string(r.Mode), hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, err
	}
	db.RunID = run.ID

	if err := results.ReplaceResults(run.ID, db.resultSet()); err != nil {
		_ = results.UpdateRunStatus(run.ID, "failed", time.Since(start))
		return nil, fmt.Errorf("failed to write result database: %w", err)
	}
	if err := results.UpdateRunStatus(run.ID, "success", time.Since(start)); err != nil {
		return nil, err
	}

	logger.Info("📦 Result database built", "path", r.prefix+".sqlite", "pipelines", len(db.Keys), "modules", len(db.Outputs))
	return db, nil
}

func (r *ResultDB) assemble(ctx context.Context, bindings *storage.IOArtifact, store *storage.OutputStore) (*Database, error) {
	logger := ctxlog.FromContext(ctx)
	db := &Database{
		Pipelines: map[string][][]string{},
		Instances: map[string][]storage.InstanceRow{},
		Outputs:   map[string]storage.OutputRecord{},
	}
	steps := bindings.StepByID()
	warned := map[string]bool{}

	for _, inst := range bindings.Instances {
		ck := captainKey(inst.Captain)
		if len(inst.Captain) == 0 || !r.pipelines[ck] {
			if !warned[ck] {
				logger.Warn("⚠️  Skipping results of a pipeline that is no longer defined", "captain", inst.Captain)
				warned[ck] = true
			}
			continue
		}
		terminal := inst.Captain[len(inst.Captain)-1]
		if !r.master[terminal] {
			if !warned[ck] {
				logger.Warn("⚠️  Skipping results of a pipeline outside the requested targets", "captain", inst.Captain)
				warned[ck] = true
			}
			continue
		}

		key := PipelineKey(terminal)
		if _, ok := db.Pipelines[key]; !ok {
			db.Keys = append(db.Keys, key)
		}
		seq := slices.IndexFunc(db.Pipelines[key], func(c []string) bool { return slices.Equal(c, inst.Captain) })
		if seq < 0 {
			db.Pipelines[key] = append(db.Pipelines[key], slices.Clone(inst.Captain))
			seq = len(db.Pipelines[key]) - 1
		}

		row := storage.InstanceRow{PipelineKey: key, SeqIndex: seq, Replicate: inst.Replicate}
		for _, id := range inst.Steps {
			row.Steps = append(row.Steps, steps[id].Base)
		}
		db.Instances[key] = append(db.Instances[key], row)

		for _, module := range inst.Captain {
			if _, ok := db.Outputs[module]; ok {
				continue
			}
			rec, ok := store.Get(module)
			if !ok {
				return nil, fmt.Errorf("no output record for module %q in %s.db", module, r.prefix)
			}
			db.Outputs[module] = rec
		}
	}
	return db, nil
}

func (db *Database) resultSet() storage.ResultSet {
	rs := storage.ResultSet{Script: db.Script, Groups: db.Groups}
	for _, key := range db.Keys {
		rs.Pipelines = append(rs.Pipelines, storage.PipelineRow{
			Key:      key,
			Terminal: strings.TrimPrefix(key, "pipeline_"),
			Captains: db.Pipelines[key],
		})
		rs.Instances = append(rs.Instances, db.Instances[key]...)
	}

	modules := make([]string, 0, len(db.Outputs))
	for m := range db.Outputs {
		modules = append(modules, m)
	}
	slices.Sort(modules)
	for _, m := range modules {
		for _, inst := range db.Outputs[m].Instances {
			rs.Outputs = append(rs.Outputs, storage.ModuleOutputRow{
				Module:    m,
				File:      inst.File,
				StepID:    inst.StepID,
				Replicate: inst.Replicate,
				Params:    inst.Params,
				Status:    inst.Status,
			})
		}
	}
	return rs
}
