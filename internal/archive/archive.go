// Package archive packages a job's consolidated documents into a zip file.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Lllllllleong/packingslipsorter/internal/models"
)

// ManifestName is the zip entry holding the classification manifest.
const ManifestName = "manifest.xlsx"

// Manifest lists how every page was classified and what was produced.
type Manifest struct {
	Pages     []models.PageRecord
	Documents []models.ConsolidatedDocument
}

type Packager struct {
	// IncludeManifest adds manifest.xlsx when a manifest is given.
	IncludeManifest bool
}

func NewPackager(includeManifest bool) *Packager {
	return &Packager{IncludeManifest: includeManifest}
}

// Create writes files, stored under their base names, to a deflate zip at dst.
func (p *Packager) Create(ctx context.Context, files []string, manifest *Manifest, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, path); err != nil {
			return err
		}
	}

	if p.IncludeManifest && manifest != nil {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: ManifestName, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("failed to add manifest: %w", err)
		}
		if err := manifest.Write(w); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(path), Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", path, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	return nil
}

const (
	pagesSheet     = "Pages"
	documentsSheet = "Documents"
)

// Write renders the manifest as an xlsx workbook.
func (m *Manifest) Write(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", pagesSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(documentsSheet); err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}

	writeRow(f, pagesSheet, 1, "Source", "Page", "Order ID", "SKU", "Resolution")
	for i, p := range m.Pages {
		writeRow(f, pagesSheet, i+2, p.Source, p.SourcePage+1, p.OrderID, p.SKU, string(p.Resolution))
	}

	writeRow(f, documentsSheet, 1, "File", "Primary SKU", "Pages", "Grouped Documents")
	for i, d := range m.Documents {
		members := make([]string, len(d.Members))
		for j, g := range d.Members {
			members[j] = g.Name()
		}
		writeRow(f, documentsSheet, i+2, d.Name(), d.PrimarySKU, d.PageCount, strings.Join(members, ", "))
	}

	_ = f.SetColWidth(pagesSheet, "A", "A", 28)
	_ = f.SetColWidth(documentsSheet, "D", "D", 60)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
