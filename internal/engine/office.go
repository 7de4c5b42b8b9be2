package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// knownSofficePaths are tried after the configured path and LIBREOFFICE_PATH.
var knownSofficePaths = []string{
	"/usr/bin/libreoffice",
	"/usr/bin/soffice",
	"/snap/bin/libreoffice",
	"/opt/libreoffice/program/soffice",
	"/Applications/LibreOffice.app/Contents/MacOS/soffice",
}

// Stderr markers LibreOffice prints while still exiting 0.
var officeFailureMarkers = []string{
	"no export filter",
	"platform independent libraries",
}

// ErrSofficeNotFound means no LibreOffice binary could be located.
var ErrSofficeNotFound = errors.New("libreoffice (soffice) not found")

// FindSoffice returns the first LibreOffice binary found, trying configured,
// then $LIBREOFFICE_PATH, then well-known install paths, then $PATH.
// It returns "" when none exists.
func FindSoffice(configured string) string {
	candidates := make([]string, 0, len(knownSofficePaths)+2)
	if configured != "" {
		candidates = append(candidates, configured)
	}
	if env := os.Getenv("LIBREOFFICE_PATH"); env != "" {
		candidates = append(candidates, env)
	}
	candidates = append(candidates, knownSofficePaths...)

	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c
		}
	}
	for _, name := range []string{"soffice", "libreoffice"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// OfficeEngine delegates conversion to headless LibreOffice. It gives the
// most faithful output when LibreOffice is installed and copes with the
// document.
type OfficeEngine struct {
	binary string
	runner Runner
	logger *slog.Logger
}

// NewOfficeEngine returns an engine running binary through r. An empty
// binary makes every conversion fail with ErrSofficeNotFound.
func NewOfficeEngine(binary string, r Runner) *OfficeEngine {
	if r == nil {
		r = ExecRunner{}
	}
	return &OfficeEngine{binary: binary, runner: r, logger: slog.Default()}
}

func (e *OfficeEngine) Name() string { return Office }

// Check reports whether the LibreOffice binary is present.
func (e *OfficeEngine) Check(_ context.Context) error {
	if e.binary == "" {
		return ErrSofficeNotFound
	}
	if _, err := os.Stat(e.binary); err != nil {
		return fmt.Errorf("checking soffice: %w", err)
	}
	return nil
}

func (e *OfficeEngine) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	if e.binary == "" {
		return "", ErrSofficeNotFound
	}

	// LibreOffice writes <stem>.pptx itself, so it gets a private directory
	// and the result is renamed into place once complete. The profile dir
	// keeps concurrent instances from fighting over one user installation.
	tmpDir, err := os.MkdirTemp(outDir, ".office-*")
	if err != nil {
		return "", fmt.Errorf("creating office work dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	profile := filepath.Join(tmpDir, "profile")
	args := []string{
		"--headless",
		"--norestore",
		"-env:UserInstallation=file://" + filepath.ToSlash(profile),
		"--convert-to", "pptx",
		"--outdir", tmpDir,
		inputPath,
	}
	_, stderr, err := e.runner.Run(ctx, e.binary, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("libreoffice: %w", ctxErr)
	}
	if err != nil {
		return "", fmt.Errorf("libreoffice failed: %w: %s", err, truncate(strings.TrimSpace(string(stderr)), 512))
	}
	for _, marker := range officeFailureMarkers {
		if strings.Contains(string(stderr), marker) {
			return "", fmt.Errorf("libreoffice cannot convert this document: %s", truncate(strings.TrimSpace(string(stderr)), 512))
		}
	}

	produced := filepath.Join(tmpDir, stem(inputPath)+".pptx")
	if _, err := os.Stat(produced); err != nil {
		return "", fmt.Errorf("libreoffice produced no output: %w", err)
	}

	name := outputName(inputPath, Office)
	if err := os.Rename(produced, filepath.Join(outDir, name)); err != nil {
		return "", fmt.Errorf("moving libreoffice output: %w", err)
	}
	e.logger.Debug("libreoffice conversion done", "input", inputPath, "output", name)
	return name, nil
}
