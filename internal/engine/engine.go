// Package engine implements the interchangeable PDF to PPTX conversion
// strategies and the ordered chain the orchestrator walks through.
package engine

import (
	"context"
	"path/filepath"
	"strings"
)

// Engine names, in default priority order.
const (
	Office      = "office"
	Raster      = "raster"
	Synth       = "synth"
	Placeholder = "placeholder"
)

// DefaultOrder is the chain used when none is configured.
var DefaultOrder = []string{Office, Raster, Synth, Placeholder}

// Engine turns one PDF into a PPTX deck.
type Engine interface {
	// Name identifies the engine in logs, diagnostics and config.
	Name() string

	// Convert writes a deck for inputPath into outDir and returns the
	// produced file name (relative to outDir). Implementations must stop
	// when ctx is done and must never leave a partial file under the
	// returned name.
	Convert(ctx context.Context, inputPath, outDir string) (string, error)
}

// Checker is implemented by engines that depend on something outside the
// process and can report whether it is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// outputName is the file an engine writes for input: "<stem>.<engine>.pptx".
func outputName(input, engine string) string {
	return stem(input) + "." + engine + ".pptx"
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
