// Package pdfiotest provides file-backed fakes of the pdfio interfaces.
// Documents are plain text files holding one "source#page" line per page, so
// tests can assert exact page membership and order without real PDFs.
// BuildPDF covers the tests that do need real documents.
package pdfiotest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Lllllllleong/packingslipsorter/internal/pdfio"
)

const header = "FAKEPDF\n"

// WriteSource persists a fake source document of pageCount pages at path.
// Page lines are labelled with the file's base name.
func WriteSource(path string, pageCount int) error {
	return os.WriteFile(path, Source(filepath.Base(path), pageCount), 0o644)
}

// Source returns the bytes of a fake document whose pages are labelled label.
func Source(label string, pageCount int) []byte {
	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < pageCount; i++ {
		fmt.Fprintf(&b, "%s#%d\n", label, i)
	}
	return []byte(b.String())
}

// Extractor serves page texts registered per file base name.
type Extractor struct {
	mu    sync.Mutex
	texts map[string][]string
	// FailOpen makes Open fail for these base names.
	FailOpen map[string]bool
}

// NewExtractor returns an empty fake extractor.
func NewExtractor() *Extractor {
	return &Extractor{texts: map[string][]string{}, FailOpen: map[string]bool{}}
}

// Register sets the page texts served for a file base name.
func (e *Extractor) Register(name string, texts ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts[name] = texts
}

func (e *Extractor) Open(path string) (pdfio.PageSource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := filepath.Base(path)
	if e.FailOpen[name] {
		return nil, fmt.Errorf("fake open failure for %s", name)
	}
	texts, ok := e.texts[name]
	if !ok {
		return nil, fmt.Errorf("no fake texts registered for %s", name)
	}
	return &source{texts: texts}, nil
}

type source struct {
	texts []string
}

func (s *source) NumPages() int { return len(s.texts) }

func (s *source) Text(index int) string {
	if index < 0 || index >= len(s.texts) {
		return ""
	}
	return s.texts[index]
}

func (s *source) Close() error { return nil }

// Writer implements pdfio.PageWriter over fake documents.
type Writer struct {
	mu sync.Mutex
	// FailWrite makes WritePages fail when dst contains any of these substrings.
	FailWrite []string
	// FailMerge makes Merge fail when dst contains any of these substrings.
	FailMerge []string
	// Corrupt makes Validate fail for paths containing any of these substrings.
	Corrupt []string

	Writes int
	Merges int
}

func matches(path string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(path, n) {
			return true
		}
	}
	return false
}

func (w *Writer) Prepare(ctx context.Context, src, dst string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lines, err := ReadPages(src)
	if err != nil {
		return 0, err
	}
	return len(lines), writeLines(dst, lines)
}

func (w *Writer) WritePages(ctx context.Context, src string, pages []int, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.Writes++
	fail := matches(dst, w.FailWrite)
	w.mu.Unlock()
	if fail {
		return fmt.Errorf("fake write failure for %s", dst)
	}
	if len(pages) == 0 {
		return errors.New("no pages")
	}
	lines, err := ReadPages(src)
	if err != nil {
		return err
	}
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		if p < 0 || p >= len(lines) {
			return fmt.Errorf("page %d out of range", p)
		}
		out = append(out, lines[p])
	}
	return writeLines(dst, out)
}

func (w *Writer) Merge(ctx context.Context, parts []string, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.Merges++
	fail := matches(dst, w.FailMerge)
	w.mu.Unlock()
	if fail {
		return fmt.Errorf("fake merge failure for %s", dst)
	}
	if len(parts) == 0 {
		return errors.New("no parts")
	}
	var all []string
	for _, p := range parts {
		lines, err := ReadPages(p)
		if err != nil {
			return err
		}
		all = append(all, lines...)
	}
	return writeLines(dst, all)
}

func (w *Writer) Validate(path string) error {
	w.mu.Lock()
	corrupt := matches(path, w.Corrupt)
	w.mu.Unlock()
	if corrupt {
		return fmt.Errorf("fake corrupt document %s", path)
	}
	_, err := ReadPages(path)
	return err
}

func (w *Writer) PageCount(path string) (int, error) {
	lines, err := ReadPages(path)
	return len(lines), err
}

// ReadPages returns the "source#page" lines of a fake document.
func ReadPages(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() || sc.Text()+"\n" != header {
		return nil, fmt.Errorf("%s is not a fake pdf", path)
	}
	var lines []string
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(header)
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
