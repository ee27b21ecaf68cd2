package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"benchflow/runner/storage"
)

// ResultStore is the read side of the result database.
type ResultStore interface {
	GetRuns(limit int) ([]*storage.Run, error)
	GetRun(runID string) (*storage.Run, error)
	GetProvenance(runID string) (string, error)
	ListPipelines() ([]storage.PipelineStats, error)
	GetPipeline(key string) (*storage.PipelineRow, error)
	GetPipelineInstances(key string) ([]storage.InstanceRow, error)
	GetModuleOutputs(module string) ([]*storage.ModuleOutputRow, error)
	GetGroups() (map[string][]string, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// GetRuns returns the most recent consolidations
func GetRuns(store ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "Invalid limit")
				return
			}
			limit = n
		}

		runs, err := store.GetRuns(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get runs: %v", err))
			return
		}
		if runs == nil {
			runs = []*storage.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// GetRun returns a single run with the script it archived
func GetRun(store ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		run, err := store.GetRun(runID)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %v", err))
			return
		}

		script, err := store.GetProvenance(runID)
		if err != nil {
			script = ""
		}

		type RunResponse struct {
			Run    *storage.Run `json:"run"`
			Script string       `json:"script"`
		}
		writeJSON(w, http.StatusOK, RunResponse{Run: run, Script: script})
	}
}

// GetPipelines lists every pipeline entry with its counts and the group table
func GetPipelines(store ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.ListPipelines()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list pipelines: %v", err))
			return
		}
		groups, err := store.GetGroups()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get groups: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"pipelines": stats,
			"groups":    groups,
		})
	}
}

// GetPipeline returns the captain sequences and executed instances of one pipeline key
func GetPipeline(store ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		pipeline, err := store.GetPipeline(key)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Pipeline not found: %v", err))
			return
		}

		instances, err := store.GetPipelineInstances(key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get instances: %v", err))
			return
		}
		if instances == nil {
			instances = []storage.InstanceRow{}
		}

		type PipelineResponse struct {
			*storage.PipelineRow
			Instances []storage.InstanceRow `json:"instances"`
		}
		writeJSON(w, http.StatusOK, PipelineResponse{PipelineRow: pipeline, Instances: instances})
	}
}

// GetModule returns the recorded outputs of one module
func GetModule(store ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		outputs, err := store.GetModuleOutputs(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get outputs: %v", err))
			return
		}
		if len(outputs) == 0 {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Module %s has no recorded outputs", name))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"module":  name,
			"outputs": outputs,
		})
	}
}
