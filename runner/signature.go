package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"benchflow/runner/storage"
)

// stepSignature fingerprints everything that determines a step's result: the
// module, its command line, parameters, the content of any file named on the
// command line and the signatures of its upstream steps.
func stepSignature(s *Step, workDir string, upstream []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "module=%s\ncommand=%s\n", s.Module, s.Command)

	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "param:%s=%s\n", k, s.Params[k])
	}
	if len(s.Depends) == 0 {
		fmt.Fprintf(h, "replicate=%d\n", s.Replicate)
	}
	for _, out := range s.Outputs {
		fmt.Fprintf(h, "output=%s\n", out)
	}
	for _, field := range strings.Fields(s.Command) {
		path := field
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		if sum, ok := fileDigest(path); ok {
			fmt.Fprintf(h, "file:%s=%s\n", field, sum)
		}
	}
	for _, sig := range upstream {
		fmt.Fprintf(h, "upstream=%s\n", sig)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fileDigest(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// ZappedSuffix marks a sentinel that stands in for an invalidated output.
const ZappedSuffix = ".zapped"

// outputState counts a step's output files that are missing or zapped.
func outputState(outputDir string, s *Step) (missing, zapped int) {
	for _, out := range s.Outputs {
		path := filepath.Join(outputDir, out)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if _, err := os.Stat(path + ZappedSuffix); err == nil {
			zapped++
			continue
		}
		missing++
	}
	return missing, zapped
}

// classify compares a step against what is on disk. A zapped output counts
// as not produced.
func classify(outputDir string, s *Step, sig string, sigs *storage.SignatureStore, mode SigMode) string {
	if mode == SigModeForce {
		return storage.StatusStale
	}
	stored, ok := sigs.Get(s.Base)
	if !ok || stored != sig {
		return storage.StatusStale
	}
	missing, zapped := outputState(outputDir, s)
	switch {
	case missing > 0:
		return storage.StatusStale
	case zapped > 0:
		return storage.StatusZapped
	default:
		return storage.StatusUpToDate
	}
}
