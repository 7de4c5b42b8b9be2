package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/kalambet/pdfdeck/internal/pptx"
)

// DefaultDPI is the raster resolution used when none is configured.
const DefaultDPI = 150

// Renderer rasterizes PDF pages into slide images.
type Renderer interface {
	// Render returns one PNG per requested 0-based page, in request order.
	// A nil pages slice renders every page.
	Render(ctx context.Context, path string, pages []int) ([]pptx.Image, error)
}

// FitzRenderer renders pages with MuPDF.
type FitzRenderer struct {
	DPI float64
}

func (r FitzRenderer) Render(ctx context.Context, path string, pages []int) ([]pptx.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf for rendering: %w", err)
	}
	defer doc.Close()

	if pages == nil {
		n := doc.NumPage()
		pages = make([]int, n)
		for i := range pages {
			pages[i] = i
		}
	}

	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	images := make([]pptx.Image, 0, len(pages))
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(p, dpi)
		if err != nil {
			return nil, fmt.Errorf("rendering page %d: %w", p+1, err)
		}
		encoded, err := encodePNG(img)
		if err != nil {
			return nil, fmt.Errorf("encoding page %d: %w", p+1, err)
		}
		images = append(images, encoded)
	}
	return images, nil
}

func encodePNG(img image.Image) (pptx.Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return pptx.Image{}, err
	}
	b := img.Bounds()
	return pptx.Image{Data: buf.Bytes(), Format: "png", Width: b.Dx(), Height: b.Dy()}, nil
}
