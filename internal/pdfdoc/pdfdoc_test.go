package pdfdoc

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/pdfdeck/internal/pdfdoc/pdftest"
)

func TestCheck_Valid(t *testing.T) {
	path := pdftest.Write(t, t.TempDir(), "two.pdf", 2)

	n, err := Check(path)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n != 2 {
		t.Errorf("pages = %d, want 2", n)
	}
}

func TestCheck_BadSignature(t *testing.T) {
	path := pdftest.WriteBytes(t, t.TempDir(), "fake.pdf", []byte("PK\x03\x04 not a pdf"))

	_, err := Check(path)
	if !errors.Is(err, ErrSignature) {
		t.Errorf("Check error = %v, want ErrSignature", err)
	}
}

func TestCheck_Unparseable(t *testing.T) {
	path := pdftest.WriteBytes(t, t.TempDir(), "corrupt.pdf", pdftest.Corrupt())

	_, err := Check(path)
	if err == nil {
		t.Fatal("expected error for corrupt pdf")
	}
	if errors.Is(err, ErrSignature) {
		t.Errorf("corrupt body should not be reported as a signature error: %v", err)
	}
}

func TestCheck_MissingFile(t *testing.T) {
	if _, err := Check(filepath.Join(t.TempDir(), "nope.pdf")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMerge_SumsPages(t *testing.T) {
	dir := t.TempDir()
	a := pdftest.Write(t, dir, "a.pdf", 2)
	b := pdftest.Write(t, dir, "b.pdf", 3)
	out := filepath.Join(dir, "merged.pdf")

	if err := Merge([]string{a, b}, out); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	n, err := PageCount(out)
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 5 {
		t.Errorf("merged pages = %d, want 5", n)
	}
}

func TestMerge_NoInputs(t *testing.T) {
	if err := Merge(nil, filepath.Join(t.TempDir(), "x.pdf")); err == nil {
		t.Fatal("expected error for empty input list")
	}
}

func TestPageText(t *testing.T) {
	path := pdftest.Write(t, t.TempDir(), "three.pdf", 3)

	pages, err := PageText(path)
	if err != nil {
		t.Fatalf("PageText: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("len(pages) = %d, want 3", len(pages))
	}
	if !strings.Contains(pages[1], "Page 2") {
		t.Errorf("page 2 text = %q, want it to contain %q", pages[1], "Page 2")
	}
}

func TestHasSignature(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"%PDF-1.7\n", true},
		{"%PDF", false},
		{"", false},
		{"<html>", false},
	}
	for _, tt := range tests {
		if got := HasSignature(strings.NewReader(tt.in)); got != tt.want {
			t.Errorf("HasSignature(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
