package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Lllllllleong/packingslipsorter/internal/archive"
	"github.com/Lllllllleong/packingslipsorter/internal/consolidate"
	"github.com/Lllllllleong/packingslipsorter/internal/grouping"
	"github.com/Lllllllleong/packingslipsorter/internal/metrics"
	"github.com/Lllllllleong/packingslipsorter/internal/models"
	"github.com/Lllllllleong/packingslipsorter/internal/pdfio"
	"github.com/Lllllllleong/packingslipsorter/internal/slip"
)

// ArchiveName is the file name of every job's archive.
const ArchiveName = "consolidated_pdfs.zip"

// Progress milestones of the pipeline stages.
const (
	progressGrouped      = 50
	progressConsolidated = 90
	progressDone         = 100
)

const (
	sourcesDir      = "sources"
	preparedDir     = "prepared"
	sortedDir       = "sorted"
	consolidatedDir = "consolidated"
)

// StatusMirror persists job snapshots outside the process.
type StatusMirror interface {
	SaveJob(ctx context.Context, job models.Job) error
}

// ArchiveStore keeps finished archives and returns a reference to them.
type ArchiveStore interface {
	UploadArchive(ctx context.Context, jobID, localPath string) (string, error)
}

// CompletionNotifier is told about every job that finished successfully.
type CompletionNotifier interface {
	JobCompleted(ctx context.Context, payload models.JobCompletedPayload) error
}

type Config struct {
	ChunkPages           int
	MaxParallelWrites    int
	CarryAcrossDocuments bool
	IncludeManifest      bool
}

// Upload is one submitted document.
type Upload struct {
	Name string
	Body io.Reader
}

// Runner executes jobs, one goroutine per job.
type Runner struct {
	registry     *Registry
	extractor    pdfio.TextExtractor
	pages        pdfio.PageWriter
	grouping     *grouping.Writer
	consolidator *consolidate.Consolidator
	packager     *archive.Packager
	metrics      *metrics.Metrics
	cfg          Config

	// Optional collaborators; nil disables them.
	Mirror   StatusMirror
	Store    ArchiveStore
	Notifier CompletionNotifier

	wg sync.WaitGroup
}

func NewRunner(registry *Registry, extractor pdfio.TextExtractor, pages pdfio.PageWriter, cfg Config, m *metrics.Metrics) *Runner {
	return &Runner{
		registry:  registry,
		extractor: extractor,
		pages:     pages,
		grouping: grouping.NewWriter(pages, grouping.Config{
			ChunkPages:        cfg.ChunkPages,
			MaxParallelWrites: cfg.MaxParallelWrites,
		}, m),
		consolidator: consolidate.NewConsolidator(pages, m),
		packager:     archive.NewPackager(cfg.IncludeManifest),
		metrics:      m,
		cfg:          cfg,
	}
}

func (r *Runner) Registry() *Registry { return r.registry }

// Submit stores the uploads in a new job's work directory and starts
// processing in the background. It returns once the uploads are on disk.
func (r *Runner) Submit(ctx context.Context, uploads []Upload) (models.Job, error) {
	rec, sources, err := r.accept(ctx, uploads)
	if err != nil {
		return models.Job{}, err
	}
	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(runCtx, rec, sources)
	}()
	return rec.Snapshot(), nil
}

// Process runs a job for the uploads and returns its final state.
func (r *Runner) Process(ctx context.Context, uploads []Upload) (models.Job, error) {
	rec, sources, err := r.accept(ctx, uploads)
	if err != nil {
		return models.Job{}, err
	}
	r.Run(ctx, rec, sources)
	return rec.Snapshot(), nil
}

// accept registers a job and saves its uploads.
func (r *Runner) accept(ctx context.Context, uploads []Upload) (*Record, []models.SourceFile, error) {
	if len(uploads) == 0 {
		return nil, nil, ErrNoSourceDocument
	}
	rec := r.registry.Create()
	logCtx := slog.With("jobId", rec.ID())

	sources, fileHash, err := r.receive(rec, uploads)
	if err != nil {
		r.handleError(ctx, logCtx, rec, fmt.Errorf("failed to receive uploads: %w", err))
		return nil, nil, err
	}

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	rec.Update(func(j *models.Job) {
		j.SourceNames = names
		j.FileHash = fileHash
	})
	r.mirror(ctx, logCtx, rec)
	logCtx.Info("Job submitted.", "sources", len(sources))
	return rec, sources, nil
}

// receive copies uploads into the job's sources directory. The returned hash
// covers the uploads in submission order.
func (r *Runner) receive(rec *Record, uploads []Upload) ([]models.SourceFile, string, error) {
	dir := filepath.Join(rec.WorkDir(), sourcesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create sources directory: %w", err)
	}
	h := sha256.New()
	sources := make([]models.SourceFile, 0, len(uploads))
	for i, u := range uploads {
		name := filepath.Base(u.Name)
		path := filepath.Join(dir, fmt.Sprintf("%03d_%s", i, name))
		if err := saveUpload(u.Body, path, h); err != nil {
			return nil, "", err
		}
		sources = append(sources, models.SourceFile{Name: name, Path: path})
	}
	return sources, hex.EncodeToString(h.Sum(nil)), nil
}

func saveUpload(body io.Reader, path string, h hash.Hash) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(io.MultiWriter(f, h), body); err != nil {
		return fmt.Errorf("failed to save upload to %s: %w", path, err)
	}
	return f.Close()
}

// Wait blocks until every started job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run processes one job to completion. Failures end in the error status.
func (r *Runner) Run(ctx context.Context, rec *Record, sources []models.SourceFile) {
	logCtx := slog.With("jobId", rec.ID())
	start := time.Now()
	r.metrics.JobStarted()
	defer func() {
		if p := recover(); p != nil {
			r.handleError(ctx, logCtx, rec, fmt.Errorf("unexpected panic: %v", p))
		}
		r.metrics.JobFinished(rec.Snapshot().Status, time.Since(start))
	}()

	rec.Update(func(j *models.Job) {
		j.Status = models.JobStatusRunning
		j.Message = ""
	})
	r.mirror(ctx, logCtx, rec)
	logCtx.Info("Job started.")

	if err := r.process(ctx, logCtx, rec, sources); err != nil {
		r.handleError(ctx, logCtx, rec, err)
		return
	}

	job := rec.Snapshot()
	logCtx.Info("Job complete.", "outputs", len(job.OutputFiles), "elapsed", time.Since(start).String())
	if r.Notifier != nil {
		payload := models.JobCompletedPayload{JobID: job.ID, ArchiveRef: job.ArchiveRef, OutputNames: job.OutputFiles}
		if err := r.Notifier.JobCompleted(ctx, payload); err != nil {
			logCtx.Error("Failed to hand off completed job.", "error", err)
		}
	}
}

type preparedSource struct {
	name  string
	path  string
	pages int
}

func (r *Runner) process(ctx context.Context, logCtx *slog.Logger, rec *Record, sources []models.SourceFile) error {
	work := rec.WorkDir()

	prepared, total, err := r.prepare(ctx, logCtx, work, sources)
	if err != nil {
		return err
	}
	rec.Update(func(j *models.Job) { j.PageCount = total })

	groups, records, err := r.classify(ctx, logCtx, rec, prepared, total)
	if err != nil {
		return err
	}
	rec.Update(func(j *models.Job) { j.GroupedCount = len(groups) })
	rec.SetProgress(progressGrouped)
	r.mirror(ctx, logCtx, rec)

	consolidated, err := r.consolidator.Run(ctx, groups, filepath.Join(work, consolidatedDir), func(done, buckets int) {
		rec.SetProgress(progressGrouped + done*(progressConsolidated-progressGrouped)/buckets)
	})
	removeStage(logCtx, filepath.Join(work, sortedDir))
	if err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}
	rec.SetProgress(progressConsolidated)
	logCtx.Info("Consolidation complete.", "groups", len(groups), "documents", len(consolidated))

	files := make([]string, len(consolidated))
	names := make([]string, len(consolidated))
	for i, d := range consolidated {
		files[i] = d.Path
		names[i] = d.Name()
	}
	archivePath := filepath.Join(work, ArchiveName)
	manifest := &archive.Manifest{Pages: records, Documents: consolidated}
	err = r.packager.Create(ctx, files, manifest, archivePath)
	removeStage(logCtx, filepath.Join(work, consolidatedDir))
	if err != nil {
		r.metrics.WriteFailed(metrics.StageArchive)
		return fmt.Errorf("failed to create archive: %w", err)
	}
	r.metrics.DocumentWritten(metrics.StageArchive)

	ref := ArchiveName
	if r.Store != nil {
		uploaded, err := r.Store.UploadArchive(ctx, rec.ID(), archivePath)
		if err != nil {
			logCtx.Error("Failed to upload archive, serving the local copy.", "error", err)
		} else {
			ref = uploaded
		}
	}

	rec.setArchivePath(archivePath)
	rec.Update(func(j *models.Job) {
		j.Status = models.JobStatusDone
		j.Progress = progressDone
		j.OutputFiles = names
		j.ConsolidatedCount = len(consolidated)
		j.ArchiveRef = ref
		j.Message = fmt.Sprintf("sorted %d pages into %d documents", total, len(consolidated))
	})
	r.mirror(ctx, logCtx, rec)
	return nil
}

// prepare validates and optimizes every source. An unreadable source fails
// the job. Raw uploads are removed once prepared.
func (r *Runner) prepare(ctx context.Context, logCtx *slog.Logger, work string, sources []models.SourceFile) ([]preparedSource, int, error) {
	defer removeStage(logCtx, filepath.Join(work, sourcesDir))

	prepared := make([]preparedSource, 0, len(sources))
	total := 0
	for i, s := range sources {
		dst := filepath.Join(work, preparedDir, fmt.Sprintf("%03d.pdf", i))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, 0, fmt.Errorf("failed to create prepared directory: %w", err)
		}
		n, err := r.pages.Prepare(ctx, s.Path, dst)
		if err != nil {
			return nil, 0, fmt.Errorf("could not read %s: %w", s.Name, err)
		}
		logCtx.Info("Source prepared.", "source", s.Name, "pageCount", n)
		prepared = append(prepared, preparedSource{name: s.Name, path: dst, pages: n})
		total += n
	}
	if total == 0 {
		return nil, 0, fmt.Errorf("source documents contain no pages")
	}
	return prepared, total, nil
}

// classify streams every page through the classifier and the grouping
// writer. Prepared sources are removed once grouped.
func (r *Runner) classify(ctx context.Context, logCtx *slog.Logger, rec *Record, prepared []preparedSource, total int) ([]models.GroupedDocument, []models.PageRecord, error) {
	defer removeStage(logCtx, filepath.Join(rec.WorkDir(), preparedDir))

	classifier := slip.NewClassifier()
	var groups []models.GroupedDocument
	var records []models.PageRecord
	done := 0

	for i, p := range prepared {
		if i > 0 && !r.cfg.CarryAcrossDocuments {
			classifier.Reset()
		}
		docLog := logCtx.With("source", p.name)

		text, err := r.extractor.Open(p.path)
		if err != nil {
			docLog.Warn("Text layer unavailable, pages will be classified as empty.", "error", err)
			text = nil
		}

		outDir := filepath.Join(rec.WorkDir(), sortedDir, fmt.Sprintf("%03d", i))
		doc := r.grouping.Begin(p.name, p.path, outDir)
		for page := 0; page < p.pages; page++ {
			var pageText string
			if text != nil {
				pageText = text.Text(page)
			}
			cl := classifier.Next(slip.Page{Index: page, Text: pageText})
			r.metrics.PageClassified(cl.Resolution)
			if r.cfg.IncludeManifest {
				records = append(records, models.PageRecord{Source: p.name, Classification: cl})
			}
			if err := doc.Add(ctx, cl); err != nil {
				closeText(text)
				return nil, nil, fmt.Errorf("failed to group %s: %w", p.name, err)
			}
			done++
			rec.SetProgress(done * progressGrouped / total)
		}
		closeText(text)

		docs, err := doc.Close(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to group %s: %w", p.name, err)
		}
		groups = append(groups, docs...)
		if err := os.Remove(p.path); err != nil {
			docLog.Warn("Failed to remove prepared source.", "error", err)
		}
		docLog.Info("Source grouped.", "pageCount", p.pages, "groups", len(docs))
	}

	if len(groups) == 0 {
		return nil, nil, fmt.Errorf("no grouped documents could be written")
	}
	return groups, records, nil
}

func closeText(src pdfio.PageSource) {
	if src != nil {
		_ = src.Close()
	}
}

func removeStage(logCtx *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logCtx.Warn("Failed to clean up stage directory.", "dir", dir, "error", err)
	}
}

// handleError moves the job to the error status with a retry message.
func (r *Runner) handleError(ctx context.Context, logCtx *slog.Logger, rec *Record, err error) {
	logCtx.Error("Job failed.", "error", err)
	rec.Update(func(j *models.Job) {
		j.Status = models.JobStatusError
		j.Message = fmt.Sprintf("processing failed: %v. please retry", err)
	})
	r.mirror(ctx, logCtx, rec)
}

func (r *Runner) mirror(ctx context.Context, logCtx *slog.Logger, rec *Record) {
	if r.Mirror == nil {
		return
	}
	if err := r.Mirror.SaveJob(ctx, rec.Snapshot()); err != nil {
		logCtx.Warn("Failed to mirror job status.", "error", err)
	}
}
