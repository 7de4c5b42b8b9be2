// Package pdfdoc inspects, merges and extracts text from PDF files.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Signature is the leading byte sequence of every PDF file.
const Signature = "%PDF-"

var (
	// ErrSignature means the file does not start with the PDF header.
	ErrSignature = errors.New("missing %PDF- signature")
	// ErrNoPages means the document parsed but contains no pages.
	ErrNoPages = errors.New("document has no pages")
)

var configOnce sync.Once

// relaxed returns a pdfcpu configuration that tolerates common producer
// quirks, without touching the user's config directory.
func relaxed() *model.Configuration {
	configOnce.Do(api.DisableConfigDir)
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// HasSignature reports whether r starts with the PDF header.
func HasSignature(r io.Reader) bool {
	buf := make([]byte, len(Signature))
	if _, err := io.ReadFull(r, buf); err != nil {
		return false
	}
	return bytes.Equal(buf, []byte(Signature))
}

// Check verifies that path is a parseable PDF with at least one page and
// returns its page count.
func Check(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening pdf: %w", err)
	}
	ok := HasSignature(f)
	f.Close()
	if !ok {
		return 0, ErrSignature
	}

	if err := api.ValidateFile(path, relaxed()); err != nil {
		return 0, fmt.Errorf("validating pdf: %w", err)
	}
	n, err := PageCount(path)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoPages
	}
	return n, nil
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return n, nil
}

// Merge concatenates inputs in order into out. The result is written to a
// temporary file next to out and renamed into place.
func Merge(inputs []string, out string) error {
	if len(inputs) == 0 {
		return errors.New("merging pdfs: no inputs")
	}
	tmp := filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".tmp")
	if err := api.MergeCreateFile(inputs, tmp, false, relaxed()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("merging pdfs: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming merged pdf: %w", err)
	}
	return nil
}

// PageText returns the plain text of every page, in order. Pages whose text
// cannot be decoded yield an empty string rather than an error.
func PageText(path string) ([]string, error) {
	f, r, err := lpdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf for text: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	pages := make([]string, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = strings.TrimSpace(text)
	}
	return pages, nil
}
