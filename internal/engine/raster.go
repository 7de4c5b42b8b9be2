package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kalambet/pdfdeck/internal/pptx"
)

// RasterEngine renders every page to an image and places one image per
// slide. Output is reliable but the text is not editable.
type RasterEngine struct {
	renderer Renderer
}

func NewRasterEngine(r Renderer) *RasterEngine {
	return &RasterEngine{renderer: r}
}

func (e *RasterEngine) Name() string { return Raster }

func (e *RasterEngine) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	images, err := e.renderer.Render(ctx, inputPath, nil)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", fmt.Errorf("rendering produced no pages")
	}

	deck := pptx.New(stem(inputPath))
	for _, img := range images {
		deck.AddImage(img)
	}

	name := outputName(inputPath, Raster)
	if err := deck.WriteFile(filepath.Join(outDir, name)); err != nil {
		return "", fmt.Errorf("writing raster deck: %w", err)
	}
	return name, nil
}
