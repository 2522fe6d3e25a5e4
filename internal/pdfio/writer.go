package pdfio

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageWriter produces persisted PDF documents from pages of other documents.
type PageWriter interface {
	// Prepare validates and optimizes src into dst and returns its page count.
	Prepare(ctx context.Context, src, dst string) (int, error)
	// WritePages writes the given 0-based pages of src, in order, to dst.
	WritePages(ctx context.Context, src string, pages []int, dst string) error
	// Merge concatenates whole documents, in order, into dst.
	Merge(ctx context.Context, parts []string, dst string) error
	// Validate reports whether path is a readable PDF.
	Validate(path string) error
	// PageCount returns the number of pages of path.
	PageCount(path string) (int, error)
}

// PDFCPUWriter implements PageWriter with pdfcpu.
type PDFCPUWriter struct{}

// NewPageWriter returns the default pdfcpu backed page writer.
func NewPageWriter() *PDFCPUWriter {
	return &PDFCPUWriter{}
}

// newConf returns a fresh configuration per call; pdfcpu mutates it.
func newConf() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

func (w *PDFCPUWriter) Prepare(ctx context.Context, src, dst string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := api.OptimizeFile(src, dst, newConf()); err != nil {
		return 0, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return pageCount, nil
}

func (w *PDFCPUWriter) WritePages(ctx context.Context, src string, pages []int, dst string) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages selected for %s", dst)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	selected := make([]string, len(pages))
	for i, p := range pages {
		selected[i] = strconv.Itoa(p + 1)
	}
	if err := api.CollectFile(src, dst, selected, newConf()); err != nil {
		return fmt.Errorf("failed to collect pages into %s: %w", dst, err)
	}
	return nil
}

func (w *PDFCPUWriter) Merge(ctx context.Context, parts []string, dst string) error {
	if len(parts) == 0 {
		return fmt.Errorf("no documents to merge into %s", dst)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(parts) == 1 {
		if err := os.Rename(parts[0], dst); err != nil {
			return fmt.Errorf("failed to move %s to %s: %w", parts[0], dst, err)
		}
		return nil
	}
	if err := api.MergeCreateFile(parts, dst, false, newConf()); err != nil {
		return fmt.Errorf("failed to merge into %s: %w", dst, err)
	}
	return nil
}

func (w *PDFCPUWriter) Validate(path string) error {
	return api.ValidateFile(path, newConf())
}

func (w *PDFCPUWriter) PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}
