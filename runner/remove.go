package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"benchflow/ctxlog"
	"benchflow/runner/storage"
	"benchflow/script"
)

// RemoveRequest describes one invalidation.
type RemoveRequest struct {
	Pipelines []script.Pipeline
	Groups    map[string][]string // groups and concats, by name
	Targets   []string            // literal files, module names or group names
	OutputDir string
	Mode      RemoveMode
	DryRun    bool
}

// RemoveResult reports what an invalidation resolved to.
type RemoveResult struct {
	Modules []string // modules whose recorded outputs were targeted
	Files   []string // files purged or replaced (or that would be, in a dry run)
	Skipped []string // files already replaced by a sentinel
}

// Remove resolves targets against the Output Record store and purges or
// zaps the matching files. Unresolvable targets are warnings, not errors.
func Remove(ctx context.Context, req RemoveRequest) (*RemoveResult, error) {
	logger := ctxlog.FromContext(ctx)
	if req.Mode != RemovePurge && req.Mode != RemoveReplace {
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown remove option %q (want purge or replace)", req.Mode)}
	}

	var files, names []string
	for _, target := range req.Targets {
		if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
			files = append(files, target)
		} else {
			names = append(names, target)
		}
	}

	result := &RemoveResult{}
	modules := expandGroups(names, req.Groups)
	project := NewProject(req.OutputDir)
	store, err := storage.LoadOutputStore(project.OutputStorePath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		if len(modules) > 0 {
			logger.Warn("⚠️  Cannot remove targets, output database is missing", "targets", modules, "database", project.OutputStorePath())
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load output store: %w", err)
	default:
		result.Modules = resolveModules(ctx, modules, req.Pipelines)
		globbed, err := recordedFiles(store, result.Modules, req.OutputDir)
		if err != nil {
			return nil, err
		}
		files = append(files, globbed...)
	}

	files = uniq(files)
	if len(files) == 0 {
		logger.Warn("⚠️  No files found to remove, please check the --target option", "mode", req.Mode)
		return result, nil
	}

	for _, f := range files {
		if req.Mode == RemoveReplace && strings.HasSuffix(f, ZappedSuffix) {
			result.Skipped = append(result.Skipped, f)
			continue
		}
		if req.DryRun {
			logger.Info("Would "+string(req.Mode), "file", f)
			result.Files = append(result.Files, f)
			continue
		}
		if err := disposeFile(f, req.Mode); err != nil {
			return result, err
		}
		logger.Debug("File "+string(req.Mode)+"d", "file", f)
		result.Files = append(result.Files, f)
	}
	logger.Info("🧹 Invalidation done", "mode", req.Mode, "files", len(result.Files), "dry_run", req.DryRun)
	return result, nil
}

// expandGroups replaces group names by their members and drops duplicates,
// keeping first occurrences.
func expandGroups(names []string, groups map[string][]string) []string {
	var out []string
	for _, name := range names {
		if members, ok := groups[name]; ok {
			out = append(out, members...)
		} else {
			out = append(out, name)
		}
	}
	return uniq(out)
}

// resolveModules keeps the names that occur in at least one pipeline. Each
// name is taken once.
func resolveModules(ctx context.Context, names []string, pipelines []script.Pipeline) []string {
	var out []string
	for _, name := range names {
		found := slices.ContainsFunc(pipelines, func(p script.Pipeline) bool { return p.Contains(name) })
		if !found {
			ctxlog.FromContext(ctx).Warn("⚠️  Cannot remove target, it is neither a file nor a module in any pipeline", "target", name)
			continue
		}
		out = append(out, name)
	}
	return out
}

// recordedFiles globs <output>/<FILE>.* for every recorded output base of
// the given modules.
func recordedFiles(store *storage.OutputStore, modules []string, outputDir string) ([]string, error) {
	var files []string
	for _, module := range modules {
		rec, ok := store.Get(module)
		if !ok {
			continue
		}
		for _, base := range rec.File {
			matches, err := filepath.Glob(filepath.Join(outputDir, base+".*"))
			if err != nil {
				return nil, fmt.Errorf("failed to expand outputs of %s: %w", module, err)
			}
			files = append(files, matches...)
		}
	}
	return files, nil
}

// disposeFile deletes f (purge) or swaps it for an empty f.zapped (replace).
func disposeFile(f string, mode RemoveMode) error {
	if mode == RemoveReplace {
		sentinel, err := os.Create(f + ZappedSuffix)
		if err != nil {
			return fmt.Errorf("failed to create sentinel for %s: %w", f, err)
		}
		if err := sentinel.Close(); err != nil {
			return fmt.Errorf("failed to create sentinel for %s: %w", f, err)
		}
	}
	if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", f, err)
	}
	return nil
}

func uniq(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
