// Package jobs tracks sorting jobs and runs the sorting pipeline for them.
package jobs

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/packingslipsorter/internal/models"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrArchiveNotReady  = errors.New("archive not ready")
	ErrNoSourceDocument = errors.New("no source documents submitted")
)

// Record is one job's mutable state. Only the job's own runner writes it.
type Record struct {
	id          string
	mu          sync.RWMutex
	job         models.Job
	workDir     string
	archivePath string
}

func (r *Record) ID() string { return r.id }

// WorkDir is the directory holding all of the job's files.
func (r *Record) WorkDir() string { return r.workDir }

// Snapshot returns a copy safe to hand to readers.
func (r *Record) Snapshot() models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j := r.job
	j.OutputFiles = append([]string(nil), r.job.OutputFiles...)
	j.SourceNames = append([]string(nil), r.job.SourceNames...)
	return j
}

// ArchivePath returns the local archive once the job is done.
func (r *Record) ArchivePath() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.job.Status != models.JobStatusDone || r.archivePath == "" {
		return "", ErrArchiveNotReady
	}
	return r.archivePath, nil
}

// Update applies fn to the job under the record lock.
func (r *Record) Update(fn func(j *models.Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.job)
	r.job.UpdatedAt = time.Now().UTC()
}

// SetProgress raises progress to p. Progress never decreases.
func (r *Record) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p > r.job.Progress {
		r.job.Progress = p
		r.job.UpdatedAt = time.Now().UTC()
	}
}

func (r *Record) setArchivePath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archivePath = path
}

// Registry maps job ids to records. Its lock only guards the map itself.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Record
	root string
}

// NewRegistry creates a registry whose jobs work under root.
func NewRegistry(root string) *Registry {
	return &Registry{jobs: make(map[string]*Record), root: root}
}

// Create registers a new pending job.
func (g *Registry) Create() *Record {
	now := time.Now().UTC()
	id := uuid.NewString()
	rec := &Record{
		id: id,
		job: models.Job{
			ID:        id,
			Status:    models.JobStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		workDir: filepath.Join(g.root, id),
	}
	g.mu.Lock()
	g.jobs[id] = rec
	g.mu.Unlock()
	return rec
}

func (g *Registry) Get(id string) (*Record, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec, nil
}

// Snapshot returns a copy of the job with the given id.
func (g *Registry) Snapshot(id string) (models.Job, error) {
	rec, err := g.Get(id)
	if err != nil {
		return models.Job{}, err
	}
	return rec.Snapshot(), nil
}

// List returns snapshots of all jobs, oldest first.
func (g *Registry) List() []models.Job {
	g.mu.RLock()
	out := make([]models.Job, 0, len(g.jobs))
	for _, rec := range g.jobs {
		out = append(out, rec.Snapshot())
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.jobs)
}

// Expire removes finished jobs last updated before cutoff and returns them.
// Running jobs are never removed.
func (g *Registry) Expire(cutoff time.Time) []*Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	var expired []*Record
	for id, rec := range g.jobs {
		j := rec.Snapshot()
		if j.Finished() && j.UpdatedAt.Before(cutoff) {
			expired = append(expired, rec)
			delete(g.jobs, id)
		}
	}
	return expired
}
