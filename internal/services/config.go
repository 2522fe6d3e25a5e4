package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/packingslipsorter/internal/gcp"
	"github.com/Lllllllleong/packingslipsorter/internal/grouping"
	"github.com/Lllllllleong/packingslipsorter/internal/jobs"
)

// SorterConfig holds all configuration for the sorter service. Values come
// from an optional YAML file named by SORTER_CONFIG, then from the
// environment, which wins.
type SorterConfig struct {
	WorkDir              string        `yaml:"WORK_DIR"`
	ChunkPages           int           `yaml:"CHUNK_PAGES"`
	MaxParallelWrites    int           `yaml:"MAX_PARALLEL_WRITES"`
	JobRetention         time.Duration `yaml:"JOB_RETENTION"`
	SweepInterval        time.Duration `yaml:"SWEEP_INTERVAL"`
	CarryAcrossDocuments bool          `yaml:"CARRY_ACROSS_DOCUMENTS"`
	IncludeManifest      bool          `yaml:"INCLUDE_MANIFEST"`
	MaxUploadBytes       int64         `yaml:"MAX_UPLOAD_BYTES"`

	ProjectID           string `yaml:"PROJECT_ID"`
	OutputBucket        string `yaml:"OUTPUT_BUCKET"`
	FirestoreCollection string `yaml:"FIRESTORE_COLLECTION"`
	WorkflowID          string `yaml:"WORKFLOW_ID"`
	WorkflowLocation    string `yaml:"WORKFLOW_LOCATION"`
}

func defaultConfig() SorterConfig {
	return SorterConfig{
		WorkDir:             filepath.Join(os.TempDir(), "slip-sorter"),
		ChunkPages:          grouping.DefaultChunkPages,
		MaxParallelWrites:   grouping.DefaultMaxParallelWrites,
		JobRetention:        jobs.DefaultRetention,
		SweepInterval:       jobs.DefaultSweepInterval,
		IncludeManifest:     true,
		MaxUploadBytes:      256 << 20,
		FirestoreCollection: "sort_jobs",
		WorkflowLocation:    "us-central1",
	}
}

// loadConfig loads and validates the service configuration.
func loadConfig() (*SorterConfig, error) {
	config := defaultConfig()

	if path := gcp.GetEnv("SORTER_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnv(c *SorterConfig) error {
	c.WorkDir = gcp.GetEnv("WORK_DIR", c.WorkDir)
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.OutputBucket = gcp.GetEnv("OUTPUT_BUCKET", c.OutputBucket)
	c.FirestoreCollection = gcp.GetEnv("FIRESTORE_COLLECTION", c.FirestoreCollection)
	c.WorkflowID = gcp.GetEnv("WORKFLOW_ID", c.WorkflowID)
	c.WorkflowLocation = gcp.GetEnv("WORKFLOW_LOCATION", c.WorkflowLocation)

	var err error
	if c.ChunkPages, err = envInt("CHUNK_PAGES", c.ChunkPages); err != nil {
		return err
	}
	if c.MaxParallelWrites, err = envInt("MAX_PARALLEL_WRITES", c.MaxParallelWrites); err != nil {
		return err
	}
	if c.JobRetention, err = envDuration("JOB_RETENTION", c.JobRetention); err != nil {
		return err
	}
	if c.SweepInterval, err = envDuration("SWEEP_INTERVAL", c.SweepInterval); err != nil {
		return err
	}
	if c.CarryAcrossDocuments, err = envBool("CARRY_ACROSS_DOCUMENTS", c.CarryAcrossDocuments); err != nil {
		return err
	}
	if c.IncludeManifest, err = envBool("INCLUDE_MANIFEST", c.IncludeManifest); err != nil {
		return err
	}
	maxUpload, err := envInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes))
	if err != nil {
		return err
	}
	c.MaxUploadBytes = int64(maxUpload)
	return nil
}

func (c *SorterConfig) validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR must not be empty")
	}
	if c.ChunkPages < 0 {
		return fmt.Errorf("CHUNK_PAGES must not be negative, got %d", c.ChunkPages)
	}
	if c.MaxParallelWrites <= 0 {
		return fmt.Errorf("MAX_PARALLEL_WRITES must be positive, got %d", c.MaxParallelWrites)
	}
	if c.JobRetention <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("JOB_RETENTION and SWEEP_INTERVAL must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.WorkflowID != "" && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set when WORKFLOW_ID is set")
	}
	return nil
}

// usesFirestore reports whether job status is mirrored to Firestore.
func (c *SorterConfig) usesFirestore() bool {
	return c.ProjectID != "" && c.FirestoreCollection != ""
}

func envInt(key string, fallback int) (int, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return v, nil
}
