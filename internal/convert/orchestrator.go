// Package convert drives jobs through the engine fallback chain, gated by
// the output validator, and records their terminal state.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kalambet/pdfdeck/internal/artifact"
	"github.com/kalambet/pdfdeck/internal/engine"
	"github.com/kalambet/pdfdeck/internal/job"
	"github.com/kalambet/pdfdeck/internal/pdfdoc"
	"github.com/kalambet/pdfdeck/internal/validate"
)

// ErrAlreadyFailed is returned by Process for a job that failed on an
// earlier delivery.
var ErrAlreadyFailed = errors.New("job already failed")

// JobStore is the subset of the store the orchestrator needs.
type JobStore interface {
	GetJob(id string) (job.Job, error)
	UpdateStatus(id string, u job.Update) (job.Job, error)
}

// Validator gates engine output.
type Validator interface {
	Validate(path string) validate.Result
	ValidateDeck(path string, wantSlides int) validate.Result
	ValidateMerged(path string, wantPages int) validate.Result
}

// Resolver makes input references available as local files.
type Resolver interface {
	Resolve(ctx context.Context, ref, dir string) (string, error)
	ResolveAll(ctx context.Context, refs []string, dir string) []artifact.Result
}

// Retention arms deferred deletion of produced artifacts.
type Retention interface {
	Schedule(ctx context.Context, path, jobID string, ttl time.Duration) error
}

// Message is one queued unit of work. Delivery is at least once.
type Message struct {
	JobID     string
	Kind      job.Kind
	Inputs    []string
	OutputDir string
}

// MessageFor builds the queue message for a stored job.
func MessageFor(j job.Job) Message {
	return Message{JobID: j.ID, Kind: j.Kind, Inputs: j.Inputs, OutputDir: j.OutputDir}
}

// Config holds orchestrator settings.
type Config struct {
	// WorkDir holds one scratch directory per running job.
	WorkDir string
	// OutputTTL is how long a produced artifact is kept.
	OutputTTL time.Duration
	// UploadRoot holds <jobID>/ directories of uploaded inputs. Each is
	// scheduled for deletion InputTTL after its job turns terminal.
	UploadRoot string
	InputTTL   time.Duration
}

// Orchestrator runs conversion and merge jobs.
type Orchestrator struct {
	store     JobStore
	chain     *engine.Chain
	validator Validator
	resolver  Resolver
	retention Retention
	cfg       Config
	logger    *slog.Logger
}

// New returns an Orchestrator. retention may be nil.
func New(store JobStore, chain *engine.Chain, v Validator, r Resolver, ret Retention, cfg Config) *Orchestrator {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "pdfdeck-work")
	}
	if cfg.OutputTTL <= 0 {
		cfg.OutputTTL = time.Hour
	}
	if cfg.InputTTL <= 0 {
		cfg.InputTTL = time.Hour
	}
	return &Orchestrator{
		store:     store,
		chain:     chain,
		validator: v,
		resolver:  r,
		retention: ret,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// Chain returns the engine chain in use.
func (o *Orchestrator) Chain() *engine.Chain { return o.chain }

// Process is the queue entry point. A job that is already terminal is
// answered from the store without running any engine, so a duplicate
// delivery is harmless.
func (o *Orchestrator) Process(ctx context.Context, msg Message) (string, error) {
	j, err := o.store.GetJob(msg.JobID)
	if err != nil {
		return "", fmt.Errorf("loading job %s: %w", msg.JobID, err)
	}

	switch j.Status {
	case job.StatusCompleted:
		o.logger.Info("job already completed, skipping", "job_id", j.ID)
		return j.OutputRef, nil
	case job.StatusFailed:
		o.logger.Info("job already failed, skipping", "job_id", j.ID)
		return "", fmt.Errorf("%w: %s", ErrAlreadyFailed, j.Error)
	}

	if len(msg.Inputs) > 0 {
		j.Inputs = msg.Inputs
	}
	if msg.OutputDir != "" {
		j.OutputDir = msg.OutputDir
	}

	switch j.Kind {
	case job.KindConvert:
		return o.Convert(ctx, j)
	case job.KindMerge:
		return o.Merge(ctx, j)
	default:
		return o.fail(ctx, j, job.InputError(fmt.Sprintf("unknown job kind %q", j.Kind), nil), job.Diagnostics{})
	}
}

// Convert turns the job's single PDF input into a PPTX deck. It tries each
// engine in chain order and accepts the first output that passes the
// validator. The terminal state is written to the store before returning.
func (o *Orchestrator) Convert(ctx context.Context, j job.Job) (string, error) {
	logger := o.logger.With("job_id", j.ID, "kind", job.KindConvert)
	start := time.Now()

	workDir, err := artifact.JobDir(o.cfg.WorkDir, j.ID)
	if err != nil {
		return o.fail(ctx, j, job.ResourceError("creating work dir", err), job.Diagnostics{})
	}
	defer os.RemoveAll(workDir)

	if len(j.Inputs) != 1 {
		return o.fail(ctx, j, job.InputError(fmt.Sprintf("convert takes one input, got %d", len(j.Inputs)), nil), job.Diagnostics{})
	}
	input, err := o.resolver.Resolve(ctx, j.Inputs[0], workDir)
	if err != nil {
		return o.fail(ctx, j, job.InputError("resolving input", err), job.Diagnostics{})
	}
	pages, err := pdfdoc.Check(input)
	if err != nil {
		return o.fail(ctx, j, job.InputError("checking input", err), job.Diagnostics{})
	}
	if err := o.advance(j.ID, job.ProgressInputChecked); err != nil {
		return "", err
	}
	logger.Info("input checked", "pages", pages)

	var (
		diag     job.Diagnostics
		lastErr  error
		accepted string
		winner   job.Attempt
	)
	for i, eng := range o.chain.Engines() {
		if i == 0 {
			if err := o.advance(j.ID, job.ProgressEngineStarted); err != nil {
				return "", err
			}
		}

		a, out, err := o.attempt(ctx, eng, input, workDir, pages)
		diag.Attempts = append(diag.Attempts, a)
		logger.Info("engine attempt",
			"engine", a.Engine,
			"outcome", a.Outcome,
			"duration_ms", a.Duration.Milliseconds(),
			"error", a.Err,
		)
		if err != nil {
			lastErr = err
			continue
		}
		accepted, winner = out, a
		break
	}

	if accepted == "" {
		if lastErr == nil {
			lastErr = errors.New("engine chain is empty")
		}
		return o.fail(ctx, j, job.Exhausted(lastErr), diag)
	}
	diag.Validation = winner.Validation

	if err := o.advance(j.ID, job.ProgressValidated); err != nil {
		return "", err
	}

	dst := filepath.Join(j.OutputDir, outputStem(j, input)+"_converted.pptx")
	if err := artifact.Publish(accepted, dst); err != nil {
		return o.fail(ctx, j, job.ResourceError("publishing output", err), diag)
	}

	if err := o.complete(ctx, j, dst, winner.Engine, pages, diag); err != nil {
		return "", err
	}
	logger.Info("job completed",
		"engine", winner.Engine,
		"slides", winner.Validation.SlideCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return dst, nil
}

// attempt runs one engine under its timeout and validates its output,
// which must hold one slide per input page. Every engine failure is an
// engine-error so the chain moves on. A rejected artifact is removed before
// returning.
func (o *Orchestrator) attempt(ctx context.Context, eng engine.Engine, input, dir string, pages int) (job.Attempt, string, error) {
	a := job.Attempt{Engine: eng.Name()}

	ectx, cancel := context.WithTimeout(ctx, o.chain.Timeout(eng.Name()))
	begin := time.Now()
	name, err := eng.Convert(ectx, input, dir)
	cancel()
	a.Duration = time.Since(begin)

	if err != nil {
		engErr := job.EngineError(eng.Name(), err)
		a.Outcome = job.OutcomeEngineError
		a.Err = engErr.Error()
		return a, "", engErr
	}

	out := filepath.Join(dir, filepath.Base(name))
	res := o.validator.ValidateDeck(out, pages)
	a.Validation = &res
	if !res.Accepted() {
		os.Remove(out)
		rej := job.Rejected(eng.Name(), res.Issues)
		a.Outcome = job.OutcomeValidationRejected
		a.Err = rej.Error()
		return a, "", rej
	}

	a.Outcome = job.OutcomeSucceeded
	return a, out, nil
}

// Merge concatenates the job's PDF inputs in order. Inputs that cannot be
// read are skipped; the job fails only when none can be used.
func (o *Orchestrator) Merge(ctx context.Context, j job.Job) (string, error) {
	logger := o.logger.With("job_id", j.ID, "kind", job.KindMerge)
	start := time.Now()

	workDir, err := artifact.JobDir(o.cfg.WorkDir, j.ID)
	if err != nil {
		return o.fail(ctx, j, job.ResourceError("creating work dir", err), job.Diagnostics{})
	}
	defer os.RemoveAll(workDir)

	if len(j.Inputs) == 0 {
		return o.fail(ctx, j, job.InputError("merge needs at least one input", nil), job.Diagnostics{})
	}

	var (
		diag  job.Diagnostics
		valid []string
		want  int
	)
	for _, r := range o.resolver.ResolveAll(ctx, j.Inputs, workDir) {
		if r.Err != nil {
			logger.Warn("skipping merge input", "ref", r.Ref, "error", r.Err)
			diag.Skipped = append(diag.Skipped, fmt.Sprintf("%s: %v", r.Ref, r.Err))
			continue
		}
		n, err := pdfdoc.Check(r.Path)
		if err != nil {
			logger.Warn("skipping merge input", "ref", r.Ref, "error", err)
			diag.Skipped = append(diag.Skipped, fmt.Sprintf("%s: %v", r.Ref, err))
			continue
		}
		valid = append(valid, r.Path)
		want += n
	}
	if len(valid) == 0 {
		return o.fail(ctx, j, job.InputError(fmt.Sprintf("none of the %d inputs is a readable pdf", len(j.Inputs)), nil), diag)
	}

	if err := o.advance(j.ID, job.ProgressInputChecked); err != nil {
		return "", err
	}
	if err := o.advance(j.ID, job.ProgressEngineStarted); err != nil {
		return "", err
	}

	tmp := filepath.Join(workDir, "merged.pdf")
	begin := time.Now()
	mergeErr := pdfdoc.Merge(valid, tmp)
	a := job.Attempt{Engine: "merge", Duration: time.Since(begin)}
	if mergeErr != nil {
		a.Outcome = job.OutcomeEngineError
		a.Err = mergeErr.Error()
		diag.Attempts = append(diag.Attempts, a)
		if isResource(mergeErr) {
			return o.fail(ctx, j, job.ResourceError("merging", mergeErr), diag)
		}
		return o.fail(ctx, j, job.Exhausted(job.EngineError("merge", mergeErr)), diag)
	}

	res := o.validator.ValidateMerged(tmp, want)
	a.Validation = &res
	diag.Validation = &res
	if !res.Accepted() {
		rej := job.Rejected("merge", res.Issues)
		a.Outcome = job.OutcomeValidationRejected
		a.Err = rej.Error()
		diag.Attempts = append(diag.Attempts, a)
		return o.fail(ctx, j, rej, diag)
	}
	a.Outcome = job.OutcomeSucceeded
	diag.Attempts = append(diag.Attempts, a)

	if err := o.advance(j.ID, job.ProgressValidated); err != nil {
		return "", err
	}

	dst := filepath.Join(j.OutputDir, "merged_"+j.ID+".pdf")
	if err := artifact.Publish(tmp, dst); err != nil {
		return o.fail(ctx, j, job.ResourceError("publishing output", err), diag)
	}
	if err := o.complete(ctx, j, dst, "merge", want, diag); err != nil {
		return "", err
	}
	logger.Info("job completed",
		"inputs", len(valid),
		"skipped", len(diag.Skipped),
		"pages", want,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return dst, nil
}

// advance records a progress milestone while processing.
func (o *Orchestrator) advance(id string, progress int) error {
	if _, err := o.store.UpdateStatus(id, job.Update{Status: job.StatusProcessing, Progress: progress}); err != nil {
		return fmt.Errorf("recording progress %d: %w", progress, err)
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, j job.Job, out, engineName string, pages int, diag job.Diagnostics) error {
	_, err := o.store.UpdateStatus(j.ID, job.Update{
		Status:      job.StatusCompleted,
		Progress:    job.ProgressDone,
		OutputRef:   out,
		EngineUsed:  engineName,
		Pages:       pages,
		Diagnostics: diag.Encode(),
	})
	if err != nil {
		return fmt.Errorf("recording completion: %w", err)
	}
	if o.retention != nil {
		if err := o.retention.Schedule(ctx, out, j.ID, o.cfg.OutputTTL); err != nil {
			o.logger.Error("scheduling output deletion", "job_id", j.ID, "path", out, "error", err)
		}
	}
	o.releaseUploads(ctx, j.ID)
	return nil
}

// fail records cause as the job's terminal error and returns it.
func (o *Orchestrator) fail(ctx context.Context, j job.Job, cause error, diag job.Diagnostics) (string, error) {
	if _, err := o.store.UpdateStatus(j.ID, job.Update{
		Status:      job.StatusFailed,
		Error:       cause.Error(),
		Diagnostics: diag.Encode(),
	}); err != nil {
		o.logger.Error("recording failure", "job_id", j.ID, "error", err)
	}
	o.releaseUploads(ctx, j.ID)
	o.logger.Warn("job failed", "job_id", j.ID, "kind", j.Kind, "attempts", len(diag.Attempts), "error", cause)
	return "", cause
}

// releaseUploads arms deletion of the job's upload directory. Inputs stay
// on disk for as long as the job waits in the queue.
func (o *Orchestrator) releaseUploads(ctx context.Context, id string) {
	if o.retention == nil || o.cfg.UploadRoot == "" {
		return
	}
	dir := filepath.Join(o.cfg.UploadRoot, id)
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := o.retention.Schedule(ctx, dir, id, o.cfg.InputTTL); err != nil {
		o.logger.Error("scheduling input deletion", "job_id", id, "path", dir, "error", err)
	}
}

// outputStem names the deliverable after the uploaded file when known.
func outputStem(j job.Job, input string) string {
	name := filepath.Base(j.Filename)
	if j.Filename == "" {
		name = filepath.Base(input)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// isResource reports environmental failures of the orchestrator's own
// writes.
func isResource(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, fs.ErrPermission)
}
