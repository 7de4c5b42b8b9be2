package pptx

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Required package parts.
const (
	PartContentTypes = "[Content_Types].xml"
	PartPresentation = "ppt/presentation.xml"
)

// ErrMissingPart is returned by Inspect when a required part is absent.
var ErrMissingPart = errors.New("missing required part")

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Package summarizes the structure and content of a .pptx file.
type Package struct {
	Parts    int
	HasTheme bool
	SlideIDs int // sldId entries in presentation.xml
	Slides   []SlideInfo
}

// SlideInfo holds what the content scan found on one slide.
type SlideInfo struct {
	Part   string
	Text   string
	Images int
}

// SlideCount prefers the presentation's slide id list and falls back to the
// number of slide parts.
func (p *Package) SlideCount() int {
	if p.SlideIDs > 0 {
		return p.SlideIDs
	}
	return len(p.Slides)
}

// Inspect opens the package at path and reads its manifest, slide list and
// slide contents. It never modifies the file.
func Inspect(path string) (*Package, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening package: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	for _, name := range []string{PartContentTypes, PartPresentation} {
		if _, ok := files[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingPart, name)
		}
	}

	pkg := &Package{Parts: len(files)}
	for name := range files {
		if strings.HasPrefix(name, "ppt/theme/") {
			pkg.HasTheme = true
			break
		}
	}

	pkg.SlideIDs, err = countSlideIDs(files[PartPresentation])
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", PartPresentation, err)
	}

	type numbered struct {
		n int
		f *zip.File
	}
	var slides []numbered
	for name, f := range files {
		m := slidePartRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, numbered{n, f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	for _, s := range slides {
		info, err := scanSlide(s.f)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", s.f.Name, err)
		}
		pkg.Slides = append(pkg.Slides, info)
	}
	return pkg, nil
}

func countSlideIDs(f *zip.File) (int, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	count := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "sldId" {
			count++
		}
	}
}

func scanSlide(f *zip.File) (SlideInfo, error) {
	info := SlideInfo{Part: f.Name}

	rc, err := f.Open()
	if err != nil {
		return info, err
	}
	defer rc.Close()

	var text strings.Builder
	inText := false
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return info, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "t" && t.Name.Space == nsA:
				inText = true
			case t.Name.Local == "blip":
				for _, a := range t.Attr {
					if a.Name.Local == "embed" && a.Value != "" {
						info.Images++
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "t" && inText {
				inText = false
				text.WriteByte(' ')
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	info.Text = strings.TrimSpace(text.String())
	return info, nil
}
