package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/pdfdeck/internal/job"
	"github.com/kalambet/pdfdeck/internal/retention"
	"github.com/kalambet/pdfdeck/internal/storage"
	"github.com/kalambet/pdfdeck/internal/validate"
)

func seedJob(t *testing.T, deps AppDeps, id string, kind job.Kind) job.Job {
	t.Helper()
	j := job.Job{
		ID:        id,
		Kind:      kind,
		Status:    job.StatusPending,
		Inputs:    []string{filepath.Join(deps.uploadDir(id), "in.pdf")},
		OutputDir: deps.outputDir(id),
		Filename:  "in.pdf",
		CreatedAt: time.Now().UTC(),
	}
	if err := deps.Store.CreateJob(j); err != nil {
		t.Fatalf("CreateJob(%s): %v", id, err)
	}
	return j
}

// completeJob writes an output file for id and marks the job completed.
func completeJob(t *testing.T, deps AppDeps, id, name, content string) string {
	t.Helper()
	dir := deps.outputDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, name)
	if err := os.WriteFile(out, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := deps.Store.UpdateStatus(id, job.Update{Status: job.StatusProcessing, Progress: job.ProgressInputChecked}); err != nil {
		t.Fatal(err)
	}
	if _, err := deps.Store.UpdateStatus(id, job.Update{
		Status:     job.StatusCompleted,
		Progress:   job.ProgressDone,
		OutputRef:  out,
		EngineUsed: "office",
		Pages:      3,
	}); err != nil {
		t.Fatal(err)
	}
	return out
}

func doRequest(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetJob(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	seedJob(t, deps, "job-1", job.KindConvert)

	rec := doRequest(h, http.MethodGet, "/jobs/job-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var v job.View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.ID != "job-1" || v.Status != job.StatusPending || v.DownloadRef != "" {
		t.Errorf("view = %+v", v)
	}

	if rec := doRequest(h, http.MethodGet, "/jobs/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing job: status = %d, want 404", rec.Code)
	}
}

func TestGetJob_CompletedExposesDownload(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	seedJob(t, deps, "job-1", job.KindConvert)
	completeJob(t, deps, "job-1", "in.pptx", "deck")

	var v job.View
	json.Unmarshal(doRequest(h, http.MethodGet, "/jobs/job-1").Body.Bytes(), &v)
	if v.Status != job.StatusCompleted || v.Progress != 100 {
		t.Errorf("view = %+v", v)
	}
	if v.DownloadRef != "/jobs/job-1/download" {
		t.Errorf("download_ref = %q", v.DownloadRef)
	}
}

func TestListJobs(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	seedJob(t, deps, "a", job.KindConvert)
	seedJob(t, deps, "b", job.KindMerge)
	seedJob(t, deps, "c", job.KindConvert)
	completeJob(t, deps, "b", "merged.pdf", "%PDF-")

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?status=pending", 2},
		{"?status=completed", 1},
		{"?status=failed", 0},
		{"?limit=1", 1},
		{"?offset=2", 1},
	}
	for _, tt := range tests {
		rec := doRequest(h, http.MethodGet, "/jobs"+tt.query)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, rec.Code)
		}
		var views []job.View
		if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
			t.Fatal(err)
		}
		if len(views) != tt.want {
			t.Errorf("%q: got %d jobs, want %d", tt.query, len(views), tt.want)
		}
	}

	if rec := doRequest(h, http.MethodGet, "/jobs?status=bogus"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status: code = %d, want 400", rec.Code)
	}
}

func TestDownload(t *testing.T) {
	deps, clock := setupDeps(t)
	h := NewAppHandler(deps)
	ctx := context.Background()
	seedJob(t, deps, "job-1", job.KindConvert)
	out := completeJob(t, deps, "job-1", "report.pptx", "pptx-bytes")
	if err := deps.Retention.Schedule(ctx, out, "job-1", time.Hour); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(h, http.MethodGet, "/jobs/job-1/download")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != pptxMediaType {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, `filename="report.pptx"`) {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Body.String() != "pptx-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}

	e, err := deps.Store.GetEntry(ctx, out)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Consumed {
		t.Error("entry not marked consumed after download")
	}
	if want := clock.Now().Add(5 * time.Minute); !e.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", e.ExpiresAt, want)
	}

	// A second download inside the grace window still works.
	clock.Advance(4 * time.Minute)
	if rec := doRequest(h, http.MethodGet, "/jobs/job-1/download"); rec.Code != http.StatusOK {
		t.Errorf("download within grace: status = %d", rec.Code)
	}

	clock.Advance(2 * time.Minute)
	rec = doRequest(h, http.MethodGet, "/jobs/job-1/download")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "expired") {
		t.Errorf("expired download: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDownload_Merge(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	seedJob(t, deps, "m-1", job.KindMerge)
	completeJob(t, deps, "m-1", "output.pdf", "%PDF-1.4")

	rec := doRequest(h, http.MethodGet, "/jobs/m-1/download")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != pdfMediaType {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "merged.pdf") {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestDownload_Unavailable(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	seedJob(t, deps, "pending", job.KindConvert)
	seedJob(t, deps, "gone", job.KindConvert)
	out := completeJob(t, deps, "gone", "x.pptx", "deck")
	os.Remove(out)

	if rec := doRequest(h, http.MethodGet, "/jobs/pending/download"); rec.Code != http.StatusBadRequest {
		t.Errorf("pending: status = %d, want 400", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/jobs/gone/download"); rec.Code != http.StatusNotFound {
		t.Errorf("missing file: status = %d, want 404", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/jobs/nope/download"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d, want 404", rec.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	ctx := context.Background()

	seedJob(t, deps, "job-1", job.KindConvert)
	os.MkdirAll(deps.uploadDir("job-1"), 0o755)
	out := completeJob(t, deps, "job-1", "x.pptx", "deck")
	deps.Retention.Schedule(ctx, deps.uploadDir("job-1"), "job-1", time.Hour)
	deps.Retention.Schedule(ctx, out, "job-1", time.Hour)

	rec := doRequest(h, http.MethodDelete, "/jobs/job-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	for _, dir := range []string{deps.uploadDir("job-1"), deps.outputDir("job-1")} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("%s still exists", dir)
		}
	}
	if _, err := deps.Store.GetJob("job-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetJob after delete: %v", err)
	}
	entries, _ := deps.Store.EntriesForJob(ctx, "job-1")
	if len(entries) != 0 {
		t.Errorf("%d retention entries left", len(entries))
	}

	if rec := doRequest(h, http.MethodDelete, "/jobs/job-1"); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rec.Code)
	}
}

func TestDeleteJob_Processing(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	seedJob(t, deps, "busy", job.KindConvert)
	deps.Store.UpdateStatus("busy", job.Update{Status: job.StatusProcessing, Progress: job.ProgressInputChecked})

	if rec := doRequest(h, http.MethodDelete, "/jobs/busy"); rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if _, err := deps.Store.GetJob("busy"); err != nil {
		t.Errorf("job removed: %v", err)
	}
}

func TestDiagnostics(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	seedJob(t, deps, "job-1", job.KindConvert)

	rec := doRequest(h, http.MethodGet, "/jobs/job-1/diagnostics")
	var empty DiagnosticsResponse
	json.Unmarshal(rec.Body.Bytes(), &empty)
	if rec.Code != http.StatusOK || empty.Attempts == nil || len(empty.Attempts) != 0 {
		t.Errorf("pending diagnostics: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	d := job.Diagnostics{
		Attempts: []job.Attempt{
			{Engine: "office", Outcome: job.OutcomeEngineError, Err: "soffice exited 1"},
			{Engine: "raster", Outcome: job.OutcomeValidationRejected, Validation: &validate.Result{Issues: []string{"no slides"}}},
		},
		Skipped: []string{"b.pdf"},
	}
	deps.Store.UpdateStatus("job-1", job.Update{Status: job.StatusProcessing, Progress: job.ProgressInputChecked})
	deps.Store.UpdateStatus("job-1", job.Update{Status: job.StatusFailed, Error: "all engines failed", Diagnostics: d.Encode()})

	rec = doRequest(h, http.MethodGet, "/jobs/job-1/diagnostics")
	var got DiagnosticsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusFailed || got.Error != "all engines failed" {
		t.Errorf("response = %+v", got)
	}
	if len(got.Attempts) != 2 || got.Attempts[1].Validation == nil || got.Attempts[1].Validation.Issues[0] != "no slides" {
		t.Errorf("attempts = %+v", got.Attempts)
	}
	if len(got.Skipped) != 1 {
		t.Errorf("skipped = %v", got.Skipped)
	}
}

func TestCapabilitiesAndStats(t *testing.T) {
	deps, _ := setupDeps(t)
	h := NewAppHandler(deps)
	seedJob(t, deps, "a", job.KindConvert)
	completeJob(t, deps, "a", "a.pptx", "deck")
	seedJob(t, deps, "b", job.KindConvert)

	var caps Capabilities
	json.Unmarshal(doRequest(h, http.MethodGet, "/capabilities").Body.Bytes(), &caps)
	if caps.MaxUploadBytes != 1<<20 || caps.MaxBatchFiles != maxBatchFiles {
		t.Errorf("capabilities = %+v", caps)
	}
	if caps.Workers.Convert != 2 || caps.Workers.Merge != 4 || caps.Engines == nil {
		t.Errorf("capabilities = %+v", caps)
	}

	var st storage.Stats
	json.Unmarshal(doRequest(h, http.MethodGet, "/stats").Body.Bytes(), &st)
	if st.Total != 2 || st.ByStatus["completed"] != 1 || st.EngineUsage["office"] != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	store.Close()
	h := NewAppHandler(AppDeps{Store: store, Retention: retention.NewScheduler(store)})

	if rec := doRequest(h, http.MethodGet, "/health"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
