// Package artifact resolves job input references to local files and moves
// produced artifacts into place.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotFound means the referenced input does not exist.
	ErrNotFound = errors.New("input not found")
	// ErrUnsupported means the reference uses a scheme that is not configured.
	ErrUnsupported = errors.New("unsupported input reference")
)

// maxParallelFetch bounds concurrent downloads for multi-input jobs.
const maxParallelFetch = 4

// ObjectFetcher downloads one object from a remote store to a local file.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, object, dst string) error
}

// Resolver turns input references into readable local paths. Plain paths
// and file:// URLs are used in place. gs://bucket/object references are
// downloaded into the job directory when a fetcher is configured.
type Resolver struct {
	gcs    ObjectFetcher
	logger *slog.Logger
}

// NewResolver returns a resolver. gcs may be nil, in which case gs://
// references fail with ErrUnsupported.
func NewResolver(gcs ObjectFetcher) *Resolver {
	return &Resolver{gcs: gcs, logger: slog.Default()}
}

// Result is the outcome of resolving one reference.
type Result struct {
	Ref  string
	Path string
	Err  error
}

// Resolve makes ref available under dir and returns its local path.
func (r *Resolver) Resolve(ctx context.Context, ref, dir string) (string, error) {
	return r.resolve(ctx, ref, dir, 0)
}

// ResolveAll resolves refs concurrently. Results keep the order of refs and
// a failure of one reference does not stop the others.
func (r *Resolver) ResolveAll(ctx context.Context, refs []string, dir string) []Result {
	results := make([]Result, len(refs))
	var g errgroup.Group
	g.SetLimit(maxParallelFetch)
	for i, ref := range refs {
		g.Go(func() error {
			p, err := r.resolve(ctx, ref, dir, i)
			results[i] = Result{Ref: ref, Path: p, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Resolver) resolve(ctx context.Context, ref, dir string, index int) (string, error) {
	switch {
	case strings.HasPrefix(ref, "gs://"):
		bucket, object, ok := strings.Cut(strings.TrimPrefix(ref, "gs://"), "/")
		if !ok || bucket == "" || object == "" {
			return "", fmt.Errorf("%w: malformed gs reference %q", ErrUnsupported, ref)
		}
		if r.gcs == nil {
			return "", fmt.Errorf("%w: gs:// inputs are not configured", ErrUnsupported)
		}
		dst := filepath.Join(dir, fmt.Sprintf("input-%02d-%s", index, path.Base(object)))
		if err := r.gcs.Fetch(ctx, bucket, object, dst); err != nil {
			return "", err
		}
		r.logger.Debug("fetched input", "ref", ref, "path", dst)
		return dst, nil

	case strings.HasPrefix(ref, "file://"):
		return localPath(strings.TrimPrefix(ref, "file://"))

	case strings.Contains(ref, "://"):
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ref)

	default:
		return localPath(ref)
	}
}

func localPath(p string) (string, error) {
	p = filepath.Clean(p)
	st, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return "", fmt.Errorf("checking input: %w", err)
	}
	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("input %s is not a regular file", p)
	}
	return p, nil
}

// JobDir creates and returns the scratch directory for one job under root.
// Each job gets its own directory so concurrent jobs never share file names.
func JobDir(root, jobID string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	dir := filepath.Join(root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating job dir: %w", err)
	}
	return dir, nil
}

// Publish moves src to dst so that dst only ever appears complete. A plain
// rename is used when possible; across filesystems the file is copied to a
// temporary name beside dst and renamed.
func Publish(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copying artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming artifact: %w", err)
	}
	os.Remove(src)
	return nil
}
