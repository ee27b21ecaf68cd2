package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Project locates the persisted state of a benchmark under its output
// directory. Name is the database basename B.
type Project struct {
	OutputDir string
	Name      string
}

// NewProject derives the project layout from an output directory.
func NewProject(outputDir string) Project {
	clean := filepath.Clean(outputDir)
	return Project{OutputDir: clean, Name: filepath.Base(clean)}
}

// Prefix is <output>/<B>, the stem shared by all state files.
func (p Project) Prefix() string { return filepath.Join(p.OutputDir, p.Name) }

// OutputStorePath is the per-module output record store.
func (p Project) OutputStorePath() string { return p.Prefix() + ".db" }

// MapPath is the mapping-phase signature artifact.
func (p Project) MapPath() string { return p.Prefix() + ".map.mpk" }

// IOPath is the mapping-phase input/output artifact.
func (p Project) IOPath() string { return p.Prefix() + ".io.mpk" }

// SignaturePath is where the engine remembers produced signatures.
func (p Project) SignaturePath() string { return p.Prefix() + ".sig.mpk" }

// ResultPath is the consolidated, queryable result database.
func (p Project) ResultPath() string { return p.Prefix() + ".sqlite" }

// HTMLPath is the exported provenance document.
func (p Project) HTMLPath() string { return p.OutputDir + ".html" }

// PlanDir holds rendered plans in debug mode.
func (p Project) PlanDir() string { return filepath.Join(p.OutputDir, ".plans") }

// ValidateRecovery checks that both mapping artifacts exist.
func (p Project) ValidateRecovery() error {
	var missing []string
	for _, path := range []string{p.MapPath(), p.IOPath()} {
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		abs, err := filepath.Abs(p.OutputDir)
		if err != nil {
			abs = p.OutputDir
		}
		return &RecoveryError{OutputDir: abs, Missing: missing}
	}
	return nil
}

// BinDirs expands executable search paths: a platform subdirectory is tried
// before the directory itself and only existing directories are kept.
func BinDirs(execPath []string) []string {
	platform := "linux"
	if runtime.GOOS == "darwin" {
		platform = "mac"
	}
	candidates := make([]string, 0, 2*len(execPath))
	for _, k := range execPath {
		candidates = append(candidates, filepath.Join(k, platform))
	}
	candidates = append(candidates, execPath...)

	dirs := make([]string, 0, len(candidates))
	for _, d := range candidates {
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
