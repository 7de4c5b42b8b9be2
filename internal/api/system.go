package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kalambet/pdfdeck/internal/engine"
)

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(ctx); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "database unavailable: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// Capabilities describes what this server can do.
type Capabilities struct {
	Engines        []engine.Status `json:"engines"`
	MaxUploadBytes int64           `json:"max_upload_bytes"`
	MaxBatchFiles  int             `json:"max_batch_files"`
	Workers        WorkerSizes     `json:"workers"`
}

type WorkerSizes struct {
	Convert int `json:"convert"`
	Merge   int `json:"merge"`
}

func handleCapabilities(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engines := deps.Engines
		if engines == nil {
			engines = []engine.Status{}
		}
		writeJSON(w, http.StatusOK, Capabilities{
			Engines:        engines,
			MaxUploadBytes: deps.maxUpload(),
			MaxBatchFiles:  maxBatchFiles,
			Workers:        WorkerSizes{Convert: deps.ConvertWorkers, Merge: deps.MergeWorkers},
		})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
