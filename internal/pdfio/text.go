// Package pdfio holds the PDF adapters used by the sorting pipeline: a page
// text extractor and a page-level document writer.
package pdfio

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageSource gives per-page plain text of one opened document.
type PageSource interface {
	// NumPages reports the page count seen by the text layer.
	NumPages() int
	// Text returns the plain text of a 0-based page, or "" if it cannot be read.
	Text(index int) string
	Close() error
}

// TextExtractor opens documents for page-by-page text extraction.
type TextExtractor interface {
	Open(path string) (PageSource, error)
}

// LedongthucExtractor reads the text layer through an io.ReaderAt so the
// document is never fully loaded into memory.
type LedongthucExtractor struct{}

// NewTextExtractor returns the default text extractor.
func NewTextExtractor() *LedongthucExtractor {
	return &LedongthucExtractor{}
}

// Open opens path for extraction. The caller must Close the returned source.
func (e *LedongthucExtractor) Open(path string) (PageSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("could not stat %s: %w", path, err)
	}

	reader, err := newReader(file, info.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}
	return &ledongthucSource{file: file, reader: reader, path: path}, nil
}

// newReader guards against the parser panicking on a broken xref table.
func newReader(file *os.File, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf reader panic: %v", rec)
		}
	}()
	return pdf.NewReader(file, size)
}

type ledongthucSource struct {
	file   *os.File
	reader *pdf.Reader
	path   string
}

func (s *ledongthucSource) NumPages() int {
	return s.reader.NumPage()
}

func (s *ledongthucSource) Text(index int) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("Recovered from panic while reading page text.", "file", s.path, "page", index, "panic", rec)
			text = ""
		}
	}()

	if index < 0 || index >= s.reader.NumPage() {
		return ""
	}
	page := s.reader.Page(index + 1)
	if page.V.IsNull() {
		return ""
	}

	if text := layoutText(s.glyphs(page, index)); strings.TrimSpace(text) != "" {
		return text
	}

	plain, err := page.GetPlainText(nil)
	if err != nil {
		slog.Warn("Failed to extract text from page.", "file", s.path, "page", index, "error", err)
		return ""
	}
	return plain
}

// glyphs interprets the content stream, yielding nothing if an operator is malformed.
func (s *ledongthucSource) glyphs(page pdf.Page, index int) (glyphs []pdf.Text) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("Recovered from panic while laying out page text.", "file", s.path, "page", index, "panic", rec)
			glyphs = nil
		}
	}()
	return page.Content().Text
}

func (s *ledongthucSource) Close() error {
	return s.file.Close()
}

// layoutText rebuilds visual lines from positioned glyphs. Glyphs sharing a
// rounded baseline form one line, lines run top to bottom, and glyphs within a
// line run left to right with a space wherever a horizontal gap separates them.
func layoutText(glyphs []pdf.Text) string {
	rows := map[float64][]pdf.Text{}
	for _, g := range glyphs {
		if g.S == "" || g.S == "\n" || g.S == "\r" {
			continue
		}
		y := math.Round(g.Y)
		rows[y] = append(rows[y], g)
	}
	if len(rows) == 0 {
		return ""
	}

	ys := make([]float64, 0, len(rows))
	for y := range rows {
		ys = append(ys, y)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ys)))

	lines := make([]string, 0, len(ys))
	for _, y := range ys {
		row := rows[y]
		// Stable: glyphs of a font without widths all share their string's X.
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })

		var b strings.Builder
		var prevEnd float64
		for i, g := range row {
			if i > 0 && g.S != " " && gapBetween(prevEnd, g) && !strings.HasSuffix(b.String(), " ") {
				b.WriteByte(' ')
			}
			b.WriteString(g.S)
			prevEnd = g.X + g.W
		}
		lines = append(lines, strings.TrimRight(b.String(), " "))
	}
	return strings.Join(lines, "\n")
}

func gapBetween(prevEnd float64, t pdf.Text) bool {
	threshold := t.FontSize * 0.15
	if threshold <= 0 {
		threshold = 1
	}
	return t.X-prevEnd > threshold
}
