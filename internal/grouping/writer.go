// Package grouping regroups classified pages of one source document into
// per-(order, sku) intermediate documents.
//
// Pages are buffered per group only for the current chunk. At every chunk
// boundary the buffered runs are flushed to part files, and when the document
// ends each group's parts are merged into its final file. The merged output
// does not depend on the chunk size.
package grouping

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/packingslipsorter/internal/metrics"
	"github.com/Lllllllleong/packingslipsorter/internal/models"
	"github.com/Lllllllleong/packingslipsorter/internal/pdfio"
)

const (
	DefaultChunkPages        = 50
	DefaultMaxParallelWrites = 10
	partsDir                 = ".parts"
)

type Config struct {
	// ChunkPages is the number of pages buffered before parts are flushed.
	// Zero or less disables chunking.
	ChunkPages        int
	MaxParallelWrites int
}

// Writer creates grouping sessions that share one page writer.
type Writer struct {
	pages   pdfio.PageWriter
	cfg     Config
	metrics *metrics.Metrics
}

func NewWriter(pages pdfio.PageWriter, cfg Config, m *metrics.Metrics) *Writer {
	if cfg.MaxParallelWrites <= 0 {
		cfg.MaxParallelWrites = DefaultMaxParallelWrites
	}
	return &Writer{pages: pages, cfg: cfg, metrics: m}
}

type group struct {
	doc     models.GroupedDocument
	parts   []string
	pending []int
	failed  bool
}

// Document is the grouping session of one source document. It is not safe
// for concurrent use.
type Document struct {
	w       *Writer
	source  string
	srcPath string
	outDir  string
	logCtx  *slog.Logger

	order   []string
	groups  map[string]*group
	inChunk int
	flushes int
}

// Begin starts grouping the pages of srcPath. Outputs are written to outDir.
func (w *Writer) Begin(source, srcPath, outDir string) *Document {
	return &Document{
		w:       w,
		source:  source,
		srcPath: srcPath,
		outDir:  outDir,
		logCtx:  slog.With("source", source),
		groups:  make(map[string]*group),
	}
}

// Add records one classified page. Pages must be added in source order.
func (d *Document) Add(ctx context.Context, cl models.Classification) error {
	key := cl.GroupKey()
	g, ok := d.groups[key]
	if !ok {
		g = &group{doc: models.GroupedDocument{
			OrderID: cl.OrderID,
			SKU:     cl.SKU,
			Key:     key,
			Source:  d.source,
			Path:    filepath.Join(d.outDir, key+".pdf"),
		}}
		d.groups[key] = g
		d.order = append(d.order, key)
	}
	g.doc.Pages = append(g.doc.Pages, cl.SourcePage)
	g.pending = append(g.pending, cl.SourcePage)
	d.inChunk++

	if d.w.cfg.ChunkPages > 0 && d.inChunk >= d.w.cfg.ChunkPages {
		return d.flush(ctx)
	}
	return nil
}

// flush writes the buffered page runs of every group to new part files.
func (d *Document) flush(ctx context.Context) error {
	d.inChunk = 0
	var pending []*group
	for _, key := range d.order {
		g := d.groups[key]
		if len(g.pending) == 0 {
			continue
		}
		if g.failed {
			g.pending = nil
			continue
		}
		pending = append(pending, g)
	}
	if len(pending) == 0 {
		return nil
	}

	dir := filepath.Join(d.outDir, partsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create parts directory: %w", err)
	}
	seq := d.flushes
	d.flushes++

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.w.cfg.MaxParallelWrites)
	for _, g := range pending {
		eg.Go(func() error {
			part := filepath.Join(dir, fmt.Sprintf("%s.part%04d.pdf", g.doc.Key, seq))
			pages := g.pending
			g.pending = nil
			if err := d.w.pages.WritePages(egCtx, d.srcPath, pages, part); err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				mu.Lock()
				defer mu.Unlock()
				d.fail(g, "Failed to write part file, skipping group.", err)
				return nil
			}
			g.parts = append(g.parts, part)
			return nil
		})
	}
	return eg.Wait()
}

// fail marks g as skipped. Its pages stay recorded but no file is produced.
func (d *Document) fail(g *group, msg string, err error) {
	if !g.failed {
		d.w.metrics.WriteFailed(metrics.StageGrouped)
	}
	g.failed = true
	d.logCtx.Error(msg, "key", g.doc.Key, "error", err)
}

// Close flushes what is buffered, merges every group's parts into its final
// file and removes the part files. The written documents are returned in
// discovery order; skipped groups are left out.
func (d *Document) Close(ctx context.Context) ([]models.GroupedDocument, error) {
	defer os.RemoveAll(filepath.Join(d.outDir, partsDir))

	if err := d.flush(ctx); err != nil {
		return nil, err
	}

	written := make([]models.GroupedDocument, 0, len(d.order))
	for _, key := range d.order {
		g := d.groups[key]
		if g.failed || len(g.parts) == 0 {
			continue
		}
		if err := d.w.pages.Merge(ctx, g.parts, g.doc.Path); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.fail(g, "Failed to merge part files, skipping group.", err)
			continue
		}
		d.w.metrics.DocumentWritten(metrics.StageGrouped)
		written = append(written, g.doc)
	}
	d.logCtx.Info("Grouping complete.", "groups", len(d.order), "written", len(written))
	return written, nil
}
