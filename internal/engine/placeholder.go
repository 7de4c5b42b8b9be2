package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kalambet/pdfdeck/internal/pdfdoc"
	"github.com/kalambet/pdfdeck/internal/pptx"
)

// PlaceholderEngine is the last resort. It emits one captioned slide per
// page and never fails on a checked input, so every job can reach a
// terminal state with an artifact.
type PlaceholderEngine struct {
	pageCount func(path string) (int, error)
}

func NewPlaceholderEngine() *PlaceholderEngine {
	return &PlaceholderEngine{pageCount: pdfdoc.PageCount}
}

func (e *PlaceholderEngine) Name() string { return Placeholder }

func (e *PlaceholderEngine) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	n, err := e.pageCount(inputPath)
	if err != nil {
		return "", err
	}
	if n < 1 {
		n = 1
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := stem(inputPath)
	deck := pptx.New(name)
	for i := 1; i <= n; i++ {
		deck.AddText(fmt.Sprintf("%s page %d of %d", name, i, n))
	}

	out := outputName(inputPath, Placeholder)
	if err := deck.WriteFile(filepath.Join(outDir, out)); err != nil {
		return "", fmt.Errorf("writing placeholder deck: %w", err)
	}
	return out, nil
}
