package storage

import (
	"errors"
	"fmt"
	"os"
	"sort"
)

// Output instance states recorded in the store.
const (
	OutputOK      = "ok"
	OutputMissing = "missing"
	OutputZapped  = "zapped"
)

// OutputInstance is one concrete invocation of a module.
type OutputInstance struct {
	File      string            `msgpack:"file"` // output base, relative to the output directory
	StepID    string            `msgpack:"step"`
	Params    map[string]string `msgpack:"params"`
	Replicate int               `msgpack:"replicate"`
	Depends   []string          `msgpack:"depends"`
	Outputs   []string          `msgpack:"outputs"`
	Status    string            `msgpack:"status"`
}

// OutputRecord lists everything a module produced in the last pass that ran it.
// FILE holds output bases; the files on disk are FILE entries plus a suffix.
type OutputRecord struct {
	File      []string         `msgpack:"FILE"`
	Instances []OutputInstance `msgpack:"instances"`
}

func (r OutputRecord) validate(module string) error {
	if len(r.File) == 0 {
		return fmt.Errorf("record of %q has no FILE entries", module)
	}
	for _, f := range r.File {
		if f == "" {
			return fmt.Errorf("record of %q has an empty FILE entry", module)
		}
	}
	return nil
}

// OutputStore is the per-module output record index (B.db).
type OutputStore struct {
	path    string
	records map[string]OutputRecord
}

// OpenOutputStore loads the store at path, starting empty if it does not exist.
func OpenOutputStore(path string) (*OutputStore, error) {
	store, err := LoadOutputStore(path)
	if errors.Is(err, os.ErrNotExist) {
		return &OutputStore{path: path, records: map[string]OutputRecord{}}, nil
	}
	return store, err
}

// LoadOutputStore loads an existing store; records failing validation are
// rejected here rather than surfacing later as missing fields.
func LoadOutputStore(path string) (*OutputStore, error) {
	records := map[string]OutputRecord{}
	if err := readMsgpack(path, &records); err != nil {
		return nil, err
	}
	for module, rec := range records {
		if err := rec.validate(module); err != nil {
			return nil, fmt.Errorf("malformed output store %s: %w", path, err)
		}
	}
	return &OutputStore{path: path, records: records}, nil
}

// Get returns the record of a module.
func (s *OutputStore) Get(module string) (OutputRecord, bool) {
	rec, ok := s.records[module]
	return rec, ok
}

// Has reports whether a module has a record.
func (s *OutputStore) Has(module string) bool {
	_, ok := s.records[module]
	return ok
}

// Put replaces the whole record of a module.
func (s *OutputStore) Put(module string, rec OutputRecord) error {
	if err := rec.validate(module); err != nil {
		return err
	}
	s.records[module] = rec
	return nil
}

// Modules returns the recorded module names, sorted.
func (s *OutputStore) Modules() []string {
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the store back to disk.
func (s *OutputStore) Save() error {
	return writeMsgpack(s.path, s.records)
}
