// Package pptx writes and inspects PresentationML (.pptx) packages.
package pptx

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Slide dimensions in EMU for a 13.33x7.5in (16:9) deck.
const (
	SlideWidth  int64 = 12192000
	SlideHeight int64 = 6858000

	emuPerInch int64 = 914400
	margin     int64 = emuPerInch / 2
)

// Image is an encoded raster placed on a slide.
type Image struct {
	Data   []byte
	Format string // "png" or "jpeg"
	Width  int    // pixels
	Height int    // pixels
}

// Slide is one content unit. A slide carries text, an image, or both.
type Slide struct {
	Title string
	Body  []string
	Image *Image
}

// Deck accumulates slides and serializes them as a .pptx package.
type Deck struct {
	Title  string
	Slides []Slide
}

// New returns an empty deck.
func New(title string) *Deck {
	return &Deck{Title: title}
}

// AddText appends a native text slide.
func (d *Deck) AddText(title string, body ...string) {
	d.Slides = append(d.Slides, Slide{Title: title, Body: body})
}

// AddImage appends a slide holding a single centered image.
func (d *Deck) AddImage(img Image) {
	d.Slides = append(d.Slides, Slide{Image: &img})
}

// WriteFile writes the deck to path via a temporary file in the same
// directory, so path never holds a partially written package.
func (d *Deck) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := d.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming deck: %w", err)
	}
	return nil
}

// Write serializes the deck as a zip package to w.
func (d *Deck) Write(w io.Writer) error {
	zw := zip.NewWriter(w)

	media := make([]string, len(d.Slides))
	imageCount := 0
	for i, s := range d.Slides {
		if s.Image == nil {
			continue
		}
		imageCount++
		media[i] = fmt.Sprintf("image%d.%s", imageCount, imageExt(s.Image.Format))
	}

	parts := []struct {
		name string
		body []byte
	}{
		{"[Content_Types].xml", contentTypesXML(len(d.Slides))},
		{"_rels/.rels", []byte(rootRelsXML)},
		{"docProps/core.xml", coreXML(d.Title)},
		{"docProps/app.xml", appXML(len(d.Slides))},
		{"ppt/presentation.xml", presentationXML(len(d.Slides))},
		{"ppt/_rels/presentation.xml.rels", presentationRelsXML(len(d.Slides))},
		{"ppt/slideMasters/slideMaster1.xml", []byte(slideMasterXML)},
		{"ppt/slideMasters/_rels/slideMaster1.xml.rels", []byte(slideMasterRelsXML)},
		{"ppt/slideLayouts/slideLayout1.xml", []byte(slideLayoutXML)},
		{"ppt/slideLayouts/_rels/slideLayout1.xml.rels", []byte(slideLayoutRelsXML)},
		{"ppt/theme/theme1.xml", []byte(themeXML)},
	}
	for _, p := range parts {
		if err := writePart(zw, p.name, p.body); err != nil {
			return err
		}
	}

	for i, s := range d.Slides {
		n := i + 1
		if err := writePart(zw, fmt.Sprintf("ppt/slides/slide%d.xml", n), slideXML(s)); err != nil {
			return err
		}
		if err := writePart(zw, fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n), slideRelsXML(media[i])); err != nil {
			return err
		}
		if s.Image != nil {
			if err := writePart(zw, "ppt/media/"+media[i], s.Image.Data); err != nil {
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing package: %w", err)
	}
	return nil
}

// Bytes returns the serialized deck.
func (d *Deck) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(zw *zip.Writer, name string, body []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("creating part %s: %w", name, err)
	}
	if _, err := fw.Write(body); err != nil {
		return fmt.Errorf("writing part %s: %w", name, err)
	}
	return nil
}

func imageExt(format string) string {
	if format == "jpeg" || format == "jpg" {
		return "jpeg"
	}
	return "png"
}

// fitImage scales a w x h pixel image into the slide area minus margins,
// preserving aspect ratio, and returns its centered offset and extent in EMU.
func fitImage(w, h int) (x, y, cx, cy int64) {
	boxW := SlideWidth - 2*margin
	boxH := SlideHeight - 2*margin
	if w <= 0 || h <= 0 {
		return margin, margin, boxW, boxH
	}
	// Compare boxW/boxH against w/h without floating point.
	if boxW*int64(h) <= boxH*int64(w) {
		cx = boxW
		cy = boxW * int64(h) / int64(w)
	} else {
		cy = boxH
		cx = boxH * int64(w) / int64(h)
	}
	x = (SlideWidth - cx) / 2
	y = (SlideHeight - cy) / 2
	return x, y, cx, cy
}
