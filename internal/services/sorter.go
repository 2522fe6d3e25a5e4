package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/packingslipsorter/internal/gcp"
	"github.com/Lllllllleong/packingslipsorter/internal/jobs"
	"github.com/Lllllllleong/packingslipsorter/internal/metrics"
	"github.com/Lllllllleong/packingslipsorter/internal/models"
	"github.com/Lllllllleong/packingslipsorter/internal/pdfio"
)

// SorterFunction holds the dependencies of the packing slip sorter.
type SorterFunction struct {
	config  SorterConfig
	runner  *jobs.Runner
	sweeper *jobs.Sweeper
	metrics *metrics.Metrics

	storageClient *storage.Client
	archives      *gcp.ArchiveBucket
	jobStore      *gcp.JobStore
	workflow      *gcp.WorkflowTrigger
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// NewSorter creates a SorterFunction from the environment. Cloud clients are
// only created for the integrations that are configured.
func NewSorter(ctx context.Context) (*SorterFunction, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	f, err := newSorter(*config, pdfio.NewTextExtractor(), pdfio.NewPageWriter())
	if err != nil {
		return nil, err
	}

	if config.ProjectID != "" || config.OutputBucket != "" {
		f.storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
	}
	if config.OutputBucket != "" {
		f.archives = gcp.NewArchiveBucket(f.storageClient, config.OutputBucket)
		f.runner.Store = f.archives
	}
	if config.usesFirestore() {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		f.jobStore = gcp.NewJobStore(firestoreClient, config.FirestoreCollection)
		f.runner.Mirror = f.jobStore
	}
	if config.WorkflowID != "" {
		f.workflow, err = gcp.NewWorkflowTrigger(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			return nil, err
		}
	}
	if f.archives != nil || f.workflow != nil {
		f.runner.Notifier = &completion{archives: f.archives, workflow: f.workflow}
	}

	slog.Info("Sorter logic initialized.",
		"workDir", config.WorkDir,
		"chunkPages", config.ChunkPages,
		"outputBucket", config.OutputBucket,
		"firestore", config.usesFirestore(),
		"workflowId", config.WorkflowID,
	)
	return f, nil
}

// newSorter wires the local pipeline without any cloud integration.
func newSorter(config SorterConfig, extractor pdfio.TextExtractor, pages pdfio.PageWriter) (*SorterFunction, error) {
	if err := os.MkdirAll(config.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	m := metrics.New()
	registry := jobs.NewRegistry(config.WorkDir)
	runner := jobs.NewRunner(registry, extractor, pages, jobs.Config{
		ChunkPages:           config.ChunkPages,
		MaxParallelWrites:    config.MaxParallelWrites,
		CarryAcrossDocuments: config.CarryAcrossDocuments,
		IncludeManifest:      config.IncludeManifest,
	}, m)
	return &SorterFunction{
		config:  config,
		runner:  runner,
		sweeper: jobs.NewSweeper(registry, config.JobRetention, config.SweepInterval),
		metrics: m,
	}, nil
}

// Start starts background maintenance.
func (f *SorterFunction) Start() error {
	return f.sweeper.Start()
}

// Close stops background maintenance and waits for running jobs.
func (f *SorterFunction) Close() {
	f.sweeper.Stop()
	f.runner.Wait()
	if f.workflow != nil {
		_ = f.workflow.Close()
	}
}

func (f *SorterFunction) MaxUploadBytes() int64 {
	return f.config.MaxUploadBytes
}

func (f *SorterFunction) MetricsHandler() http.Handler {
	return f.metrics.Handler()
}

// Submit accepts a batch of documents and starts sorting them in the background.
func (f *SorterFunction) Submit(ctx context.Context, uploads []jobs.Upload) (*models.SubmitResponse, error) {
	job, err := f.runner.Submit(ctx, uploads)
	if err != nil {
		return nil, err
	}
	return &models.SubmitResponse{JobID: job.ID, Status: job.Status}, nil
}

// Status reports a job's progress. Jobs unknown to this instance are looked
// up in the Firestore mirror when one is configured.
func (f *SorterFunction) Status(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	job, err := f.runner.Registry().Snapshot(jobID)
	if errors.Is(err, jobs.ErrJobNotFound) && f.jobStore != nil {
		job, err = f.jobStore.GetJob(ctx, jobID)
		if errors.Is(err, gcp.ErrDocumentNotFound) {
			err = jobs.ErrJobNotFound
		}
	}
	if err != nil {
		return nil, err
	}
	res := models.StatusFromJob(job)
	return &res, nil
}

// Archive opens the archive of a finished job. The caller must close it.
func (f *SorterFunction) Archive(ctx context.Context, jobID string) (io.ReadCloser, error) {
	rec, err := f.runner.Registry().Get(jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return f.remoteArchive(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}

	archivePath, err := rec.ArchivePath()
	if err != nil {
		return nil, err
	}
	file, err := os.Open(archivePath)
	if err == nil {
		return file, nil
	}
	ref := rec.Snapshot().ArchiveRef
	if f.archives != nil && strings.HasPrefix(ref, "gs://") {
		return f.archives.OpenRef(ctx, ref)
	}
	return nil, fmt.Errorf("failed to open archive: %w", err)
}

func (f *SorterFunction) remoteArchive(ctx context.Context, jobID string) (io.ReadCloser, error) {
	if f.archives == nil {
		return nil, jobs.ErrJobNotFound
	}
	ref, err := f.archives.FindArchive(ctx, jobID)
	if errors.Is(err, gcp.ErrObjectNotFound) {
		return nil, jobs.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return f.archives.OpenRef(ctx, ref)
}

// ProcessGCSEvent sorts a PDF uploaded to a watched bucket. The object is
// streamed to local disk, hashed, and skipped if it was already sorted.
func (f *SorterFunction) ProcessGCSEvent(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Ignoring non-PDF object.")
		return nil
	}
	if f.config.OutputBucket != "" && e.Bucket == f.config.OutputBucket {
		logCtx.Info("Ignoring object in the output bucket.")
		return nil
	}
	if f.storageClient == nil {
		return fmt.Errorf("storage client not configured; set PROJECT_ID to enable GCS triggers")
	}
	logCtx.Info("Processing new GCS object.")

	tempDir, err := os.MkdirTemp("", "slip-sorter-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, f.storageClient, e.Bucket, e.Name, sourcePdfPath); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(sourcePdfPath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	if f.jobStore != nil {
		docID, dup, err := f.jobStore.FindDuplicate(ctx, fileHash)
		if err != nil {
			logCtx.Error("Failed to check for duplicate", "error", err)
			return err
		}
		if dup {
			logCtx.Info("Duplicate file detected. Skipping.", "existingJobId", docID)
			return nil
		}
	}

	source, err := os.Open(sourcePdfPath)
	if err != nil {
		return fmt.Errorf("failed to open downloaded PDF: %w", err)
	}
	defer source.Close()

	job, err := f.runner.Process(ctx, []jobs.Upload{{Name: path.Base(e.Name), Body: source}})
	if err != nil {
		logCtx.Error("Failed to accept GCS object", "error", err)
		return err
	}
	if job.Status == models.JobStatusError {
		return fmt.Errorf("job %s: %s", job.ID, job.Message)
	}
	logCtx.Info("GCS object sorted.", "jobId", job.ID, "outputs", len(job.OutputFiles), "archiveRef", job.ArchiveRef)
	return nil
}

// completion publishes finished jobs: the output list next to the archive
// and a workflow execution.
type completion struct {
	archives *gcp.ArchiveBucket
	workflow *gcp.WorkflowTrigger
}

func (c *completion) JobCompleted(ctx context.Context, payload models.JobCompletedPayload) error {
	if c.archives != nil {
		if err := c.archives.SaveOutputs(ctx, payload.JobID, payload.OutputNames); err != nil {
			return err
		}
	}
	if c.workflow != nil {
		return c.workflow.JobCompleted(ctx, payload)
	}
	return nil
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
