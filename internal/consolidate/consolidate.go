// Package consolidate merges intermediate per-(order, sku) documents into one
// document per primary SKU. The primary SKU of an order is the SKU of the
// first group discovered for it.
package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/Lllllllleong/packingslipsorter/internal/metrics"
	"github.com/Lllllllleong/packingslipsorter/internal/models"
	"github.com/Lllllllleong/packingslipsorter/internal/pdfio"
)

// Bucket is the planned content of one consolidated document.
type Bucket struct {
	PrimarySKU string
	Members    []models.GroupedDocument
}

// PrimarySKUs maps every order id to the SKU of its first discovered group.
func PrimarySKUs(groups []models.GroupedDocument) map[string]string {
	primary := make(map[string]string)
	for _, g := range groups {
		if _, ok := primary[g.OrderKey()]; !ok {
			primary[g.OrderKey()] = g.SKU
		}
	}
	return primary
}

// Plan assigns every group to exactly one bucket. Buckets come out in the
// order their primary SKU is first seen and members are sorted by order id,
// keeping discovery order between groups of the same order.
func Plan(groups []models.GroupedDocument) []Bucket {
	primary := PrimarySKUs(groups)

	index := make(map[string]int)
	var buckets []Bucket
	for _, g := range groups {
		sku := primary[g.OrderKey()]
		i, ok := index[sku]
		if !ok {
			i = len(buckets)
			index[sku] = i
			buckets = append(buckets, Bucket{PrimarySKU: sku})
		}
		buckets[i].Members = append(buckets[i].Members, g)
	}
	for _, b := range buckets {
		sort.SliceStable(b.Members, func(i, j int) bool {
			return b.Members[i].OrderKey() < b.Members[j].OrderKey()
		})
	}
	return buckets
}

type Consolidator struct {
	pages   pdfio.PageWriter
	metrics *metrics.Metrics
}

func NewConsolidator(pages pdfio.PageWriter, m *metrics.Metrics) *Consolidator {
	return &Consolidator{pages: pages, metrics: m}
}

// Run writes {primary_sku}.pdf files into outDir. Groups whose file cannot be
// read are left out of their bucket, and a bucket left with no pages or whose
// merge fails is skipped. onBucket, if not nil, is called after each bucket.
func (c *Consolidator) Run(ctx context.Context, groups []models.GroupedDocument, outDir string, onBucket func(done, total int)) ([]models.ConsolidatedDocument, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	buckets := Plan(groups)
	results := make([]models.ConsolidatedDocument, 0, len(buckets))

	for i, b := range buckets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logCtx := slog.With("primarySku", b.PrimarySKU)

		doc := models.ConsolidatedDocument{
			PrimarySKU: b.PrimarySKU,
			Path:       filepath.Join(outDir, b.PrimarySKU+".pdf"),
		}
		var parts []string
		for _, m := range b.Members {
			if err := c.pages.Validate(m.Path); err != nil {
				logCtx.Warn("Skipping unreadable grouped document.", "file", m.Name(), "error", err)
				c.metrics.WriteFailed(metrics.StageConsolidated)
				continue
			}
			parts = append(parts, m.Path)
			doc.Members = append(doc.Members, m)
			doc.PageCount += len(m.Pages)
		}

		if doc.PageCount > 0 {
			if err := c.pages.Merge(ctx, parts, doc.Path); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logCtx.Error("Failed to write consolidated document, skipping.", "error", err)
				c.metrics.WriteFailed(metrics.StageConsolidated)
			} else {
				c.metrics.DocumentWritten(metrics.StageConsolidated)
				results = append(results, doc)
			}
		} else {
			logCtx.Warn("No readable pages for primary SKU, skipping.")
		}

		if onBucket != nil {
			onBucket(i+1, len(buckets))
		}
	}

	if len(groups) > 0 && len(results) == 0 {
		return nil, fmt.Errorf("no consolidated documents could be written from %d groups", len(groups))
	}
	return results, nil
}
