package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/pdfdeck/internal/job"
	"github.com/kalambet/pdfdeck/internal/retention"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(t *testing.T, s *Store, id string, kind job.Kind) job.Job {
	t.Helper()
	j := job.Job{ID: id, Kind: kind, Inputs: []string{"/in/" + id + ".pdf"}, OutputDir: "/out", Filename: id + ".pdf"}
	if err := s.CreateJob(j); err != nil {
		t.Fatalf("CreateJob(%s): %v", id, err)
	}
	return j
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_status_kind", "idx_jobs_created", "idx_retention_expires", "idx_retention_job"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("query index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestOpen_FilePragmas(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var timeout int
	if err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(ms) != 2 || ms[0].name != "001_jobs.sql" || ms[1].version != 2 {
		t.Errorf("migrations = %+v", ms)
	}
	if _, err := parseMigrationVersion("jobs.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "j1", job.KindConvert)

	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Kind != job.KindConvert {
		t.Errorf("Kind = %q, want convert", got.Kind)
	}
	if len(got.Inputs) != 1 || got.Inputs[0] != "/in/j1.pdf" {
		t.Errorf("Inputs = %v", got.Inputs)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreateJob_UnknownKind(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateJob(job.Job{ID: "x", Kind: "split"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus_ForwardProgression(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "j1", job.KindConvert)

	steps := []job.Update{
		{Status: job.StatusProcessing, Progress: 10},
		{Status: job.StatusProcessing, Progress: 30},
		{Status: job.StatusProcessing, Progress: 80},
		{Status: job.StatusCompleted, OutputRef: "/out/j1_converted.pptx", EngineUsed: "placeholder", Pages: 2},
	}
	for _, u := range steps {
		if _, err := s.UpdateStatus("j1", u); err != nil {
			t.Fatalf("UpdateStatus(%+v): %v", u, err)
		}
	}

	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusCompleted || got.Progress != 100 {
		t.Errorf("final = %s/%d, want completed/100", got.Status, got.Progress)
	}
	if got.OutputRef != "/out/j1_converted.pptx" {
		t.Errorf("OutputRef = %q", got.OutputRef)
	}
	if got.EngineUsed != "placeholder" || got.Pages != 2 {
		t.Errorf("EngineUsed/Pages = %q/%d", got.EngineUsed, got.Pages)
	}
	if got.StartedAt.IsZero() || got.CompletedAt.IsZero() {
		t.Error("timestamps not recorded")
	}
}

func TestUpdateStatus_TerminalIsFinal(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "j1", job.KindConvert)

	if _, err := s.UpdateStatus("j1", job.Update{Status: job.StatusCompleted, OutputRef: "/out/a.pptx"}); err != nil {
		t.Fatal(err)
	}

	// A stale duplicate processing write must not overwrite completed.
	_, err := s.UpdateStatus("j1", job.Update{Status: job.StatusProcessing, Progress: 10})
	if !errors.Is(err, ErrStaleTransition) {
		t.Errorf("error = %v, want ErrStaleTransition", err)
	}
	_, err = s.UpdateStatus("j1", job.Update{Status: job.StatusFailed, Error: "late"})
	if !errors.Is(err, ErrStaleTransition) {
		t.Errorf("error = %v, want ErrStaleTransition", err)
	}

	got, _ := s.GetJob("j1")
	if got.Status != job.StatusCompleted || got.OutputRef != "/out/a.pptx" || got.Error != "" {
		t.Errorf("job mutated after terminal: %+v", got)
	}
}

func TestUpdateStatus_ProgressNeverDecreases(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "j1", job.KindConvert)

	s.UpdateStatus("j1", job.Update{Status: job.StatusProcessing, Progress: 80})
	got, err := s.UpdateStatus("j1", job.Update{Status: job.StatusProcessing, Progress: 10})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Progress != 80 {
		t.Errorf("Progress = %d, want 80", got.Progress)
	}
}

func TestUpdateStatus_CompletedRequiresOutput(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "j1", job.KindConvert)

	if _, err := s.UpdateStatus("j1", job.Update{Status: job.StatusCompleted}); err == nil {
		t.Fatal("expected error when completing without an output reference")
	}
}

func TestUpdateStatus_FailedClearsOutput(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "j1", job.KindConvert)

	got, err := s.UpdateStatus("j1", job.Update{Status: job.StatusFailed, OutputRef: "/ignored", Error: "bad input"})
	if err != nil {
		t.Fatal(err)
	}
	if got.OutputRef != "" {
		t.Errorf("OutputRef = %q, want empty for failed job", got.OutputRef)
	}
	if got.Error != "bad input" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.UpdateStatus("nope", job.Update{Status: job.StatusProcessing}); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestClaimNextJob(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "c1", job.KindConvert)

	j, err := s.ClaimNextJob([]job.Kind{job.KindConvert}, 0)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j == nil || j.ID != "c1" {
		t.Fatalf("claimed %+v, want c1", j)
	}
	if j.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending until the orchestrator starts it", j.Status)
	}
	if j.ClaimedAt.IsZero() {
		t.Error("ClaimedAt not set")
	}

	again, err := s.ClaimNextJob([]job.Kind{job.KindConvert}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Errorf("claimed %s twice", again.ID)
	}
}

func TestClaimNextJob_KindFilter(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "m1", job.KindMerge)

	j, err := s.ClaimNextJob([]job.Kind{job.KindConvert}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Errorf("convert claim returned merge job %s", j.ID)
	}

	j, err = s.ClaimNextJob([]job.Kind{job.KindMerge}, 0)
	if err != nil || j == nil || j.ID != "m1" {
		t.Errorf("merge claim = %+v, %v", j, err)
	}
}

func TestClaimNextJob_Oldest(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i := 3; i >= 1; i-- {
		j := job.Job{ID: fmt.Sprintf("c%d", i), Kind: job.KindConvert, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateJob(j); err != nil {
			t.Fatal(err)
		}
	}

	j, err := s.ClaimNextJob([]job.Kind{job.KindConvert}, 0)
	if err != nil || j == nil {
		t.Fatalf("ClaimNextJob = %v, %v", j, err)
	}
	if j.ID != "c1" {
		t.Errorf("claimed %s, want oldest c1", j.ID)
	}
}

func TestClaimNextJob_ReclaimsStale(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "c1", job.KindConvert)

	if _, err := s.ClaimNextJob([]job.Kind{job.KindConvert}, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateStatus("c1", job.Update{Status: job.StatusProcessing, Progress: 30}); err != nil {
		t.Fatal(err)
	}
	// Backdate the claim so it looks abandoned.
	old := formatTime(time.Now().Add(-time.Hour))
	if _, err := s.db.Exec(`UPDATE jobs SET claimed_at = ? WHERE id = 'c1'`, old); err != nil {
		t.Fatal(err)
	}

	j, err := s.ClaimNextJob([]job.Kind{job.KindConvert}, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if j == nil || j.ID != "c1" {
		t.Fatalf("stale job not reclaimed: %+v", j)
	}
	if j.Status != job.StatusProcessing || j.Progress != 30 {
		t.Errorf("reclaimed job = %s/%d, want processing/30 untouched", j.Status, j.Progress)
	}

	// A fresh claim is not stale.
	j, err = s.ClaimNextJob([]job.Kind{job.KindConvert}, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Errorf("fresh claim reclaimed: %s", j.ID)
	}
}

func TestClaimNextJob_SkipsTerminal(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "c1", job.KindConvert)
	s.UpdateStatus("c1", job.Update{Status: job.StatusFailed, Error: "x"})

	j, err := s.ClaimNextJob([]job.Kind{job.KindConvert}, time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Errorf("terminal job claimed: %s", j.ID)
	}
}

func TestListJobs(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		newJob(t, s, fmt.Sprintf("j%d", i), job.KindConvert)
	}
	s.UpdateStatus("j0", job.Update{Status: job.StatusFailed, Error: "x"})

	all, err := s.ListJobs("", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("len(all) = %d, want 5", len(all))
	}

	failed, err := s.ListJobs(job.StatusFailed, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ID != "j0" {
		t.Errorf("failed = %+v", failed)
	}

	page, err := s.ListJobs("", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Errorf("len(page) = %d, want 2", len(page))
	}
}

func TestDeleteJob(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "j1", job.KindConvert)

	if err := s.DeleteJob("j1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetJob("j1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("job still present after delete: %v", err)
	}
	if err := s.DeleteJob("j1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	newJob(t, s, "a", job.KindConvert)
	newJob(t, s, "b", job.KindConvert)
	newJob(t, s, "c", job.KindConvert)
	newJob(t, s, "d", job.KindMerge)

	s.UpdateStatus("a", job.Update{Status: job.StatusCompleted, OutputRef: "/o/a", EngineUsed: "synth", Pages: 3})
	s.UpdateStatus("b", job.Update{Status: job.StatusCompleted, OutputRef: "/o/b", EngineUsed: "synth", Pages: 2})
	s.UpdateStatus("c", job.Update{Status: job.StatusFailed, Error: "bad"})

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 {
		t.Errorf("Total = %d, want 4", st.Total)
	}
	if st.ByStatus["completed"] != 2 || st.ByStatus["failed"] != 1 || st.ByStatus["pending"] != 1 {
		t.Errorf("ByStatus = %v", st.ByStatus)
	}
	if st.EngineUsage["synth"] != 2 {
		t.Errorf("EngineUsage = %v", st.EngineUsage)
	}
	if st.PagesProcessed != 5 {
		t.Errorf("PagesProcessed = %d, want 5", st.PagesProcessed)
	}
	if st.SuccessRate < 0.66 || st.SuccessRate > 0.67 {
		t.Errorf("SuccessRate = %f, want ~0.667", st.SuccessRate)
	}
}

func TestRetentionEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	entries := []retention.Entry{
		{Path: "/out/a.pptx", JobID: "a", CreatedAt: now, ExpiresAt: now.Add(-time.Minute)},
		{Path: "/out/b.pptx", JobID: "b", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{Path: "/in/a.pdf", JobID: "a", CreatedAt: now, ExpiresAt: now.Add(-2 * time.Minute)},
	}
	for _, e := range entries {
		if err := s.PutEntry(ctx, e); err != nil {
			t.Fatalf("PutEntry: %v", err)
		}
	}

	due, err := s.DueEntries(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].Path != "/in/a.pdf" {
		t.Errorf("due = %+v, want 2 entries oldest first", due)
	}

	// Upsert shortens expiry and marks consumption.
	b := entries[1]
	b.ExpiresAt = now.Add(5 * time.Minute)
	b.Consumed = true
	if err := s.PutEntry(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEntry(ctx, "/out/b.pptx")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Consumed || !got.ExpiresAt.Equal(b.ExpiresAt) {
		t.Errorf("entry = %+v, want consumed with shortened expiry", got)
	}

	forJob, err := s.EntriesForJob(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(forJob) != 2 {
		t.Errorf("EntriesForJob(a) = %d entries, want 2", len(forJob))
	}

	if err := s.DeleteEntry(ctx, "/out/b.pptx"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEntry(ctx, "/out/b.pptx"); !errors.Is(err, retention.ErrNoEntry) {
		t.Errorf("GetEntry after delete = %v, want ErrNoEntry", err)
	}
}

func TestRetentionEntries_SurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.PutEntry(ctx, retention.Entry{Path: "/out/x.pptx", CreatedAt: time.Now(), ExpiresAt: exp}); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.GetEntry(ctx, "/out/x.pptx")
	if err != nil {
		t.Fatalf("entry lost across reopen: %v", err)
	}
	if !got.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, exp)
	}
}
