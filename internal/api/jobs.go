package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pdfdeck/internal/job"
	"github.com/kalambet/pdfdeck/internal/storage"
	"github.com/kalambet/pdfdeck/internal/validate"
)

const (
	pptxMediaType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	pdfMediaType  = "application/pdf"
)

func downloadRef(id string) string { return "/jobs/" + id + "/download" }

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		var status job.Status
		if s := r.URL.Query().Get("status"); s != "" {
			st, err := job.ParseStatus(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			status = st
		}

		jobs, err := deps.Store.ListJobs(status, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}

		now := time.Now()
		views := make([]job.View, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, job.ViewOf(j, downloadRef(j.ID), now))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, ok := loadJob(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, job.ViewOf(j, downloadRef(j.ID), time.Now()))
	}
}

func handleDeleteJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, ok := loadJob(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		if j.Status == job.StatusProcessing {
			httpError(w, http.StatusConflict, "conflict", "job is being processed")
			return
		}

		if deps.Retention != nil {
			if _, err := deps.Retention.ForgetJob(r.Context(), j.ID); err != nil {
				slog.Warn("dropping retention entries failed", "job_id", j.ID, "error", err)
			}
		}
		// Only directories this service created are removed; inputs given
		// by reference belong to the caller.
		for _, dir := range []string{deps.uploadDir(j.ID), deps.outputDir(j.ID)} {
			if err := os.RemoveAll(dir); err != nil {
				slog.Warn("removing job files failed", "job_id", j.ID, "path", dir, "error", err)
			}
		}

		err := deps.Store.DeleteJob(j.ID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete job: %v", err)
			return
		}
		slog.Info("job deleted", "job_id", j.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, ok := loadJob(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		if j.Status != job.StatusCompleted {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "job not completed, current status: %s", j.Status)
			return
		}

		if deps.Retention != nil {
			expired, err := deps.Retention.Expired(r.Context(), j.OutputRef)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "checking retention: %v", err)
				return
			}
			if expired {
				httpError(w, http.StatusNotFound, "not_found", "output has expired")
				return
			}
		}

		f, err := os.Open(j.OutputRef)
		if errors.Is(err, os.ErrNotExist) {
			httpError(w, http.StatusNotFound, "not_found", "output file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "opening output: %v", err)
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading output: %v", err)
			return
		}

		if deps.Retention != nil {
			if err := deps.Retention.CancelOrShorten(r.Context(), j.OutputRef); err != nil {
				slog.Warn("shortening output retention failed", "job_id", j.ID, "error", err)
			}
		}

		name, mediaType := downloadName(j)
		w.Header().Set("Content-Type", mediaType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		http.ServeContent(w, r, name, st.ModTime(), f)
	}
}

// downloadName returns the client-facing file name and media type for a
// completed job's output.
func downloadName(j job.Job) (string, string) {
	if j.Kind == job.KindMerge {
		return "merged.pdf", pdfMediaType
	}
	name := filepath.Base(j.OutputRef)
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return name, pdfMediaType
	}
	return name, pptxMediaType
}

// DiagnosticsResponse is the operator view of how a job was resolved.
type DiagnosticsResponse struct {
	JobID      string           `json:"job_id"`
	Status     job.Status       `json:"status"`
	EngineUsed string           `json:"engine_used,omitempty"`
	Error      string           `json:"error,omitempty"`
	Attempts   []job.Attempt    `json:"attempts"`
	Validation *validate.Result `json:"validation,omitempty"`
	Skipped    []string         `json:"skipped,omitempty"`
}

func handleDiagnostics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, ok := loadJob(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		d, err := job.DecodeDiagnostics(j.Diagnostics)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "decoding diagnostics: %v", err)
			return
		}
		if d.Attempts == nil {
			d.Attempts = []job.Attempt{}
		}
		writeJSON(w, http.StatusOK, DiagnosticsResponse{
			JobID:      j.ID,
			Status:     j.Status,
			EngineUsed: j.EngineUsed,
			Error:      j.Error,
			Attempts:   d.Attempts,
			Validation: d.Validation,
			Skipped:    d.Skipped,
		})
	}
}

func loadJob(w http.ResponseWriter, deps AppDeps, id string) (job.Job, bool) {
	j, err := deps.Store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "job not found")
		return job.Job{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
		return job.Job{}, false
	}
	return j, true
}
