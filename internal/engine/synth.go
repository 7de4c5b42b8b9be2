package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kalambet/pdfdeck/internal/pdfdoc"
	"github.com/kalambet/pdfdeck/internal/pptx"
)

const maxTitleRunes = 120

// SynthEngine builds native text slides from the extracted page text.
// Pages without extractable text are rasterized instead.
type SynthEngine struct {
	renderer Renderer
	pageText func(path string) ([]string, error)
}

func NewSynthEngine(r Renderer) *SynthEngine {
	return &SynthEngine{renderer: r, pageText: pdfdoc.PageText}
}

func (e *SynthEngine) Name() string { return Synth }

func (e *SynthEngine) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	pages, err := e.pageText(inputPath)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("extracting text: %w", pdfdoc.ErrNoPages)
	}

	var blank []int
	for i, text := range pages {
		if text == "" {
			blank = append(blank, i)
		}
	}

	rendered := map[int]pptx.Image{}
	if len(blank) > 0 {
		if e.renderer == nil {
			return "", fmt.Errorf("%d pages have no text and no renderer is available", len(blank))
		}
		images, err := e.renderer.Render(ctx, inputPath, blank)
		if err != nil {
			return "", err
		}
		if len(images) != len(blank) {
			return "", fmt.Errorf("rendered %d of %d textless pages", len(images), len(blank))
		}
		for i, p := range blank {
			rendered[p] = images[i]
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	deck := pptx.New(stem(inputPath))
	for i, text := range pages {
		if img, ok := rendered[i]; ok {
			deck.AddImage(img)
			continue
		}
		title, body := splitPage(text)
		deck.AddText(title, body...)
	}

	name := outputName(inputPath, Synth)
	if err := deck.WriteFile(filepath.Join(outDir, name)); err != nil {
		return "", fmt.Errorf("writing synth deck: %w", err)
	}
	return name, nil
}

// splitPage uses the first non-empty line as the slide title and the
// remaining non-empty lines as body paragraphs.
func splitPage(text string) (string, []string) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	title := lines[0]
	if r := []rune(title); len(r) > maxTitleRunes {
		title = string(r[:maxTitleRunes]) + "…"
	}
	return title, lines[1:]
}
