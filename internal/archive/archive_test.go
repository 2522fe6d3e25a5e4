package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Lllllllleong/packingslipsorter/internal/models"
)

func writeFiles(t *testing.T, dir string, contents map[string]string) []string {
	t.Helper()
	var paths []string
	for name, body := range contents {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func readZip(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string][]byte)
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = body
	}
	return out
}

func TestPackager_Create(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, map[string]string{"SKU123.pdf": "a", "SKU999.pdf": "b"})
	dst := filepath.Join(dir, "out", "sorted.zip")

	require.NoError(t, NewPackager(false).Create(context.Background(), files, &Manifest{}, dst))

	entries := readZip(t, dst)
	assert.Equal(t, map[string][]byte{"SKU123.pdf": []byte("a"), "SKU999.pdf": []byte("b")}, entries)
}

func TestPackager_MissingFile(t *testing.T) {
	dir := t.TempDir()
	err := NewPackager(false).Create(context.Background(), []string{filepath.Join(dir, "nope.pdf")}, nil, filepath.Join(dir, "a.zip"))
	assert.Error(t, err)
}

func TestPackager_Manifest(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, map[string]string{"SKU123.pdf": "a"})
	manifest := &Manifest{
		Pages: []models.PageRecord{
			{Source: "slips.pdf", Classification: models.Classification{OrderID: "1001", SKU: "SKU123", SourcePage: 0, Resolution: models.ResolutionExtracted}},
			{Source: "slips.pdf", Classification: models.Classification{OrderID: "1001", SKU: "SKU123", SourcePage: 1, Resolution: models.ResolutionCarried}},
		},
		Documents: []models.ConsolidatedDocument{{
			PrimarySKU: "SKU123",
			PageCount:  2,
			Members:    []models.GroupedDocument{{Key: "1001_SKU123"}},
		}},
	}
	dst := filepath.Join(dir, "sorted.zip")
	require.NoError(t, NewPackager(true).Create(context.Background(), files, manifest, dst))

	entries := readZip(t, dst)
	require.Contains(t, entries, ManifestName)

	xlsx := filepath.Join(dir, ManifestName)
	require.NoError(t, os.WriteFile(xlsx, entries[ManifestName], 0o644))
	f, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(pagesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Source", "Page", "Order ID", "SKU", "Resolution"}, rows[0])
	assert.Equal(t, []string{"slips.pdf", "2", "1001", "SKU123", "carried"}, rows[2])

	docs, err := f.GetRows(documentsSheet)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, []string{"SKU123.pdf", "SKU123", "2", "1001_SKU123.pdf"}, docs[1])
}

func TestPackager_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	files := writeFiles(t, dir, map[string]string{"a.pdf": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewPackager(false).Create(ctx, files, nil, filepath.Join(dir, "a.zip"))
	assert.ErrorIs(t, err, context.Canceled)
}
