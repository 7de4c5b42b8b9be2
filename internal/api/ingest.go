package api

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/pdfdeck/internal/engine"
	"github.com/kalambet/pdfdeck/internal/job"
	"github.com/kalambet/pdfdeck/internal/pdfdoc"
	"github.com/kalambet/pdfdeck/internal/retention"
	"github.com/kalambet/pdfdeck/internal/storage"
	"github.com/kalambet/pdfdeck/internal/validate"
)

const (
	defaultMaxUpload = 25 << 20 // 25MB
	maxBatchFiles    = 10
	maxRequestBody   = 1 << 20 // 1MB, JSON bodies
)

// AppDeps holds everything the HTTP and MCP surfaces need.
type AppDeps struct {
	Store     *storage.Store
	Retention *retention.Scheduler
	Validator *validate.Validator
	Engines   []engine.Status
	// DataDir holds uploads/<jobID>/ and outputs/<jobID>/.
	DataDir        string
	MaxUploadBytes int64
	ConvertWorkers int
	MergeWorkers   int
}

func (d AppDeps) maxUpload() int64 {
	if d.MaxUploadBytes <= 0 {
		return defaultMaxUpload
	}
	return d.MaxUploadBytes
}

func (d AppDeps) uploadDir(id string) string { return filepath.Join(d.DataDir, "uploads", id) }
func (d AppDeps) outputDir(id string) string { return filepath.Join(d.DataDir, "outputs", id) }

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Get("/capabilities", handleCapabilities(deps))
	r.Get("/stats", handleStats(deps))

	r.Post("/convert", handleConvert(deps))
	r.Post("/merge", handleMerge(deps))

	r.Get("/jobs", handleListJobs(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Delete("/jobs/{id}", handleDeleteJob(deps))
	r.Get("/jobs/{id}/download", handleDownload(deps))
	r.Get("/jobs/{id}/diagnostics", handleDiagnostics(deps))

	return r
}

// SubmitResult describes one accepted (or refused) input of a submission.
type SubmitResult struct {
	ID          string     `json:"id,omitempty"`
	Kind        job.Kind   `json:"kind,omitempty"`
	Status      job.Status `json:"status,omitempty"`
	Filename    string     `json:"filename"`
	InputMD5    string     `json:"input_md5,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	StatusURL   string     `json:"status_url,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SubmitRequest is the JSON form of /convert and /merge for inputs that
// already live on disk or in a bucket (gs://bucket/object).
type SubmitRequest struct {
	Inputs []string `json:"inputs"`
}

// uploadError carries the HTTP status for a rejected upload.
type uploadError struct {
	code int
	msg  string
}

func (e *uploadError) Error() string { return e.msg }

func statusFor(err error) int {
	var ue *uploadError
	if errors.As(err, &ue) {
		return ue.code
	}
	return http.StatusInternalServerError
}

// savedUpload is one PDF written under the job's upload directory.
type savedUpload struct {
	name string
	path string
	md5  string
	size int64
}

func handleConvert(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if isJSON(r) {
			refs, ok := decodeSubmit(w, r)
			if !ok {
				return
			}
			results := make([]SubmitResult, 0, len(refs))
			for _, ref := range refs {
				j, err := submitRefs(r.Context(), deps, job.KindConvert, []string{ref})
				if err != nil {
					results = append(results, SubmitResult{Filename: path.Base(ref), Error: err.Error()})
					continue
				}
				results = append(results, resultFor(j))
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, deps.maxUpload()*maxBatchFiles+maxRequestBody)
		mr, err := r.MultipartReader()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "expected multipart/form-data or application/json: %v", err)
			return
		}

		var results []SubmitResult
		var lastErr error
		accepted := 0
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading multipart body: %v", err)
				return
			}
			if part.FormName() != "file" || part.FileName() == "" {
				part.Close()
				continue
			}
			if len(results) == maxBatchFiles {
				part.Close()
				httpError(w, http.StatusBadRequest, "invalid_request_error", "at most %d files per request", maxBatchFiles)
				return
			}

			id := uuid.New().String()
			up, err := saveUpload(deps, deps.uploadDir(id), part.FileName(), part)
			part.Close()
			if err != nil {
				os.RemoveAll(deps.uploadDir(id))
				results = append(results, SubmitResult{Filename: part.FileName(), Error: err.Error()})
				lastErr = err
				continue
			}

			j, err := createJob(r.Context(), deps, id, job.KindConvert, []string{up.path}, up.name, up.md5, up.size)
			if err != nil {
				os.RemoveAll(deps.uploadDir(id))
				results = append(results, SubmitResult{Filename: up.name, Error: err.Error()})
				lastErr = err
				continue
			}
			res := resultFor(j)
			res.InputMD5, res.SizeBytes = up.md5, up.size
			results = append(results, res)
			accepted++
		}

		if len(results) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no file parts in request")
			return
		}
		if len(results) == 1 && accepted == 0 {
			httpError(w, statusFor(lastErr), "invalid_request_error", "%v", lastErr)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
	}
}

func handleMerge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if isJSON(r) {
			refs, ok := decodeSubmit(w, r)
			if !ok {
				return
			}
			if len(refs) < 2 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "merge needs at least 2 inputs")
				return
			}
			j, err := submitRefs(r.Context(), deps, job.KindMerge, refs)
			if err != nil {
				httpError(w, statusFor(err), "api_error", "failed to create job: %v", err)
				return
			}
			writeJSON(w, http.StatusAccepted, resultFor(j))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, deps.maxUpload()*maxBatchFiles+maxRequestBody)
		mr, err := r.MultipartReader()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "expected multipart/form-data or application/json: %v", err)
			return
		}

		id := uuid.New().String()
		dir := deps.uploadDir(id)
		var ups []savedUpload
		fail := func(code int, format string, args ...any) {
			os.RemoveAll(dir)
			httpError(w, code, "invalid_request_error", format, args...)
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				fail(http.StatusBadRequest, "reading multipart body: %v", err)
				return
			}
			if part.FormName() != "file" || part.FileName() == "" {
				part.Close()
				continue
			}
			if len(ups) == maxBatchFiles {
				part.Close()
				fail(http.StatusBadRequest, "at most %d files per request", maxBatchFiles)
				return
			}
			// Prefix keeps order and tells same-named files apart.
			name := fmt.Sprintf("%02d-%s", len(ups), part.FileName())
			up, err := saveUpload(deps, dir, name, part)
			part.Close()
			if err != nil {
				fail(statusFor(err), "%s: %v", part.FileName(), err)
				return
			}
			up.name = part.FileName()
			ups = append(ups, up)
		}
		if len(ups) < 2 {
			fail(http.StatusBadRequest, "merge needs at least 2 files")
			return
		}

		inputs := make([]string, len(ups))
		var total int64
		for i, up := range ups {
			inputs[i] = up.path
			total += up.size
		}
		j, err := createJob(r.Context(), deps, id, job.KindMerge, inputs, "merged.pdf", "", total)
		if err != nil {
			os.RemoveAll(dir)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}
		res := resultFor(j)
		res.SizeBytes = total
		writeJSON(w, http.StatusAccepted, res)
	}
}

// saveUpload streams one uploaded PDF into dir, enforcing the size limit,
// the .pdf extension and the %PDF- signature. It returns the MD5 of the
// stored bytes.
func saveUpload(deps AppDeps, dir, name string, src io.Reader) (savedUpload, error) {
	name = sanitizeFilename(name)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return savedUpload{}, &uploadError{http.StatusBadRequest, "only .pdf files are accepted"}
	}

	br := bufio.NewReader(src)
	head, _ := br.Peek(len(pdfdoc.Signature))
	if len(head) == 0 {
		return savedUpload{}, &uploadError{http.StatusBadRequest, "file is empty"}
	}
	if !pdfdoc.HasSignature(bytes.NewReader(head)) {
		return savedUpload{}, &uploadError{http.StatusBadRequest, "file is not a PDF"}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return savedUpload{}, fmt.Errorf("creating upload dir: %w", err)
	}
	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return savedUpload{}, fmt.Errorf("creating upload file: %w", err)
	}

	h := md5.New()
	limit := deps.maxUpload()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(br, limit+1))
	closeErr := f.Close()
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr) || n > limit:
		os.Remove(dst)
		return savedUpload{}, &uploadError{http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d MB limit", limit>>20)}
	case err != nil:
		os.Remove(dst)
		return savedUpload{}, fmt.Errorf("writing upload: %w", err)
	case closeErr != nil:
		os.Remove(dst)
		return savedUpload{}, fmt.Errorf("closing upload: %w", closeErr)
	}

	return savedUpload{name: name, path: dst, md5: hex.EncodeToString(h.Sum(nil)), size: n}, nil
}

// submitRefs queues a job for inputs that are already addressable.
func submitRefs(ctx context.Context, deps AppDeps, kind job.Kind, refs []string) (job.Job, error) {
	for _, ref := range refs {
		if strings.TrimSpace(ref) == "" {
			return job.Job{}, &uploadError{http.StatusBadRequest, "empty input reference"}
		}
	}
	name := path.Base(refs[0])
	if kind == job.KindMerge {
		name = "merged.pdf"
	}
	return createJob(ctx, deps, uuid.New().String(), kind, refs, name, "", 0)
}

// createJob stores a pending job. Upload retention is armed by the
// orchestrator once the job reaches a terminal state.
func createJob(ctx context.Context, deps AppDeps, id string, kind job.Kind, inputs []string, filename, md5sum string, size int64) (job.Job, error) {
	j := job.Job{
		ID:         id,
		Kind:       kind,
		Status:     job.StatusPending,
		Inputs:     inputs,
		OutputDir:  deps.outputDir(id),
		Filename:   filename,
		InputMD5:   md5sum,
		InputBytes: size,
		CreatedAt:  time.Now().UTC(),
	}
	if err := deps.Store.CreateJob(j); err != nil {
		return job.Job{}, fmt.Errorf("saving job: %w", err)
	}

	slog.Info("job queued", "job_id", id, "kind", kind, "inputs", len(inputs), "filename", filename)
	return j, nil
}

func resultFor(j job.Job) SubmitResult {
	return SubmitResult{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Filename:    j.Filename,
		InputMD5:    j.InputMD5,
		SizeBytes:   j.InputBytes,
		StatusURL:   "/jobs/" + j.ID,
		DownloadURL: downloadRef(j.ID),
	}
}

func decodeSubmit(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return nil, false
	}
	if len(req.Inputs) == 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "inputs is required")
		return nil, false
	}
	if len(req.Inputs) > maxBatchFiles {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "at most %d inputs per request", maxBatchFiles)
		return nil, false
	}
	return req.Inputs, true
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// sanitizeFilename keeps the base name and replaces characters that are
// awkward on disk.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			return '_'
		}
		return r
	}, name)
	if name == "." || name == ".." || name == "" {
		return "upload.pdf"
	}
	return name
}
