package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/kalambet/pdfdeck/internal/pdfdoc/pdftest"
	"github.com/kalambet/pdfdeck/internal/pptx"
)

type fakeRenderer struct {
	pages    int
	err      error
	requests [][]int
}

func (f *fakeRenderer) Render(_ context.Context, _ string, pages []int) ([]pptx.Image, error) {
	f.requests = append(f.requests, pages)
	if f.err != nil {
		return nil, f.err
	}
	n := len(pages)
	if pages == nil {
		n = f.pages
	}
	imgs := make([]pptx.Image, n)
	for i := range imgs {
		imgs[i] = testImage()
	}
	return imgs, nil
}

func testImage() pptx.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return pptx.Image{Data: buf.Bytes(), Format: "png", Width: 8, Height: 6}
}

func inspect(t *testing.T, dir, name string) *pptx.Package {
	t.Helper()
	pkg, err := pptx.Inspect(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Inspect(%s): %v", name, err)
	}
	return pkg
}

func TestPlaceholderEngine(t *testing.T) {
	dir := t.TempDir()
	in := pdftest.Write(t, dir, "deck.pdf", 3)

	name, err := NewPlaceholderEngine().Convert(context.Background(), in, dir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if name != "deck.placeholder.pptx" {
		t.Errorf("name = %q", name)
	}

	pkg := inspect(t, dir, name)
	if pkg.SlideCount() != 3 {
		t.Fatalf("SlideCount = %d, want 3", pkg.SlideCount())
	}
	if got := pkg.Slides[1].Text; got != "deck page 2 of 3" {
		t.Errorf("slide 2 text = %q", got)
	}
}

func TestPlaceholderEngine_Cancelled(t *testing.T) {
	dir := t.TempDir()
	in := pdftest.Write(t, dir, "deck.pdf", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewPlaceholderEngine().Convert(ctx, in, dir); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRasterEngine(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{pages: 2}

	name, err := NewRasterEngine(r).Convert(context.Background(), filepath.Join(dir, "scan.pdf"), dir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	pkg := inspect(t, dir, name)
	if pkg.SlideCount() != 2 {
		t.Errorf("SlideCount = %d, want 2", pkg.SlideCount())
	}
	for i, s := range pkg.Slides {
		if s.Images != 1 {
			t.Errorf("slide %d images = %d, want 1", i+1, s.Images)
		}
	}
}

func TestRasterEngine_RenderError(t *testing.T) {
	r := &fakeRenderer{err: errors.New("mupdf exploded")}
	if _, err := NewRasterEngine(r).Convert(context.Background(), "/in/a.pdf", t.TempDir()); err == nil {
		t.Fatal("expected render error")
	}
}

func TestSynthEngine_TextAndFallback(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRenderer{}
	e := NewSynthEngine(r)
	e.pageText = func(string) ([]string, error) {
		return []string{"Quarterly results\nRevenue up\nCosts down", "", "Summary"}, nil
	}

	name, err := e.Convert(context.Background(), filepath.Join(dir, "q3.pdf"), dir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if len(r.requests) != 1 || len(r.requests[0]) != 1 || r.requests[0][0] != 1 {
		t.Errorf("render requests = %v, want only page index 1", r.requests)
	}

	pkg := inspect(t, dir, name)
	if pkg.SlideCount() != 3 {
		t.Fatalf("SlideCount = %d, want 3", pkg.SlideCount())
	}
	if pkg.Slides[0].Images != 0 || pkg.Slides[1].Images != 1 {
		t.Errorf("images per slide = %d,%d, want 0,1", pkg.Slides[0].Images, pkg.Slides[1].Images)
	}
}

func TestSynthEngine_RealText(t *testing.T) {
	dir := t.TempDir()
	in := pdftest.Write(t, dir, "two.pdf", 2)
	r := &fakeRenderer{}

	name, err := NewSynthEngine(r).Convert(context.Background(), in, dir)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(r.requests) != 0 {
		t.Errorf("renderer used for text pages: %v", r.requests)
	}
	if n := inspect(t, dir, name).SlideCount(); n != 2 {
		t.Errorf("SlideCount = %d, want 2", n)
	}
}

func TestSplitPage(t *testing.T) {
	tests := []struct {
		in        string
		wantTitle string
		wantBody  int
	}{
		{"Title\nline one\n\nline two", "Title", 2},
		{"  \n Only title \n", "Only title", 0},
		{"", "", 0},
	}
	for _, tt := range tests {
		title, body := splitPage(tt.in)
		if title != tt.wantTitle || len(body) != tt.wantBody {
			t.Errorf("splitPage(%q) = %q, %d lines; want %q, %d", tt.in, title, len(body), tt.wantTitle, tt.wantBody)
		}
	}
}
