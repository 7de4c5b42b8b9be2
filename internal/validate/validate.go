// Package validate inspects produced artifacts and decides whether they are
// usable.
package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/kalambet/pdfdeck/internal/pdfdoc"
	"github.com/kalambet/pdfdeck/internal/pptx"
)

// Result is the outcome of validating one artifact.
type Result struct {
	Path       string   `json:"path"`
	IsValid    bool     `json:"is_valid"`
	HasContent bool     `json:"has_content"`
	SlideCount int      `json:"slide_count"`
	FileSize   int64    `json:"file_size"`
	Issues     []string `json:"issues"`
	Warnings   []string `json:"warnings"`
}

// Accepted reports whether the artifact can be handed to a client.
func (r Result) Accepted() bool {
	return r.IsValid && r.HasContent
}

// Thresholds used by the validator. Zero values are replaced by defaults.
type Thresholds struct {
	MinPPTXBytes    int64
	MinPDFBytes     int64
	MinSlideText    int
	LowDensityChars int
	MinBytesPerUnit int64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MinPPTXBytes <= 0 {
		t.MinPPTXBytes = 1024
	}
	if t.MinPDFBytes <= 0 {
		t.MinPDFBytes = 64
	}
	if t.MinSlideText <= 0 {
		t.MinSlideText = 2
	}
	if t.LowDensityChars <= 0 {
		t.LowDensityChars = 20
	}
	if t.MinBytesPerUnit <= 0 {
		t.MinBytesPerUnit = 2048
	}
	return t
}

// Validator checks .pptx decks and .pdf documents.
type Validator struct {
	th Thresholds
}

// New returns a Validator using th, with defaults for unset fields.
func New(th Thresholds) *Validator {
	return &Validator{th: th.withDefaults()}
}

// Validate dispatches on the file extension. It never modifies the file
// and reports every problem through the result rather than an error.
func (v *Validator) Validate(path string) Result {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return v.validatePDF(path)
	}
	return v.validatePPTX(path)
}

// ValidateDeck validates a converted deck and additionally requires one
// slide per source page. A wantSlides of zero skips the count check.
func (v *Validator) ValidateDeck(path string, wantSlides int) Result {
	r := v.Validate(path)
	if r.IsValid && wantSlides > 0 && r.SlideCount != wantSlides {
		r.IsValid = false
		r.Issues = append(r.Issues, fmt.Sprintf("slide count %d does not match page count %d", r.SlideCount, wantSlides))
	}
	return r
}

// ValidateMerged validates a merged PDF and additionally requires its page
// count to equal wantPages.
func (v *Validator) ValidateMerged(path string, wantPages int) Result {
	r := v.validatePDF(path)
	if r.IsValid && r.SlideCount != wantPages {
		r.IsValid = false
		r.Issues = append(r.Issues, fmt.Sprintf("page count %d does not match expected %d", r.SlideCount, wantPages))
	}
	return r
}

func (v *Validator) statGate(r *Result, min int64) bool {
	fi, err := os.Stat(r.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.Issues = append(r.Issues, "file does not exist")
		} else {
			r.Issues = append(r.Issues, fmt.Sprintf("stat failed: %v", err))
		}
		return false
	}
	r.FileSize = fi.Size()
	if fi.Size() < min {
		r.Issues = append(r.Issues, fmt.Sprintf("file too small: %d bytes (minimum %d)", fi.Size(), min))
		return false
	}
	return true
}

func (v *Validator) validatePPTX(path string) Result {
	r := Result{Path: path}

	if !v.statGate(&r, v.th.MinPPTXBytes) {
		return r
	}

	pkg, err := pptx.Inspect(path)
	if err != nil {
		r.Issues = append(r.Issues, fmt.Sprintf("invalid package: %v", err))
		return r
	}

	r.SlideCount = pkg.SlideCount()
	if r.SlideCount == 0 {
		r.Issues = append(r.Issues, "presentation has no slides")
		return r
	}
	r.IsValid = true

	textChars := 0
	for _, s := range pkg.Slides {
		n := visibleLen(s.Text)
		textChars += n
		if n >= v.th.MinSlideText || s.Images > 0 {
			r.HasContent = true
		}
	}
	if !r.HasContent {
		r.Issues = append(r.Issues, "no slide contains text or images")
	}

	if textChars/r.SlideCount < v.th.LowDensityChars {
		r.Warnings = append(r.Warnings, fmt.Sprintf("low text density: %d chars per slide", textChars/r.SlideCount))
	}
	if !pkg.HasTheme {
		r.Warnings = append(r.Warnings, "missing theme part")
	}
	if r.FileSize/int64(r.SlideCount) < v.th.MinBytesPerUnit {
		r.Warnings = append(r.Warnings, fmt.Sprintf("small slides: %d bytes per slide", r.FileSize/int64(r.SlideCount)))
	}
	return r
}

func (v *Validator) validatePDF(path string) Result {
	r := Result{Path: path}

	if !v.statGate(&r, v.th.MinPDFBytes) {
		return r
	}

	n, err := pdfdoc.Check(path)
	if err != nil {
		r.Issues = append(r.Issues, fmt.Sprintf("invalid pdf: %v", err))
		return r
	}
	r.SlideCount = n
	r.IsValid = true
	r.HasContent = true

	if r.FileSize/int64(n) < v.th.MinBytesPerUnit/8 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("small pages: %d bytes per page", r.FileSize/int64(n)))
	}
	return r
}

func visibleLen(s string) int {
	n := 0
	for _, c := range s {
		if !unicode.IsSpace(c) {
			n++
		}
	}
	return n
}
