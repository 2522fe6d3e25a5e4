package jobs

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultRetention     = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Sweeper periodically drops finished jobs older than the retention window
// together with their work directories. It never touches running jobs.
type Sweeper struct {
	registry  *Registry
	retention time.Duration
	interval  time.Duration
	cron      *cron.Cron
	entry     cron.EntryID
	mu        sync.Mutex
	running   bool
}

func NewSweeper(registry *Registry, retention, interval time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		registry:  registry,
		retention: retention,
		interval:  interval,
		cron:      cron.New(),
	}
}

func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	if s.entry == 0 {
		schedule := "@every " + s.interval.String()
		id, err := s.cron.AddFunc(schedule, func() { s.Sweep(time.Now()) })
		if err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
		}
		s.entry = id
	}
	s.cron.Start()
	s.running = true
	slog.Info("Job sweeper started.", "retention", s.retention.String(), "interval", s.interval.String())
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	slog.Info("Job sweeper stopped.")
}

// Sweep expires jobs finished before now minus the retention window and
// returns how many were removed.
func (s *Sweeper) Sweep(now time.Time) int {
	expired := s.registry.Expire(now.Add(-s.retention))
	for _, rec := range expired {
		if err := os.RemoveAll(rec.WorkDir()); err != nil {
			slog.Warn("Failed to remove expired job directory.", "jobId", rec.ID(), "error", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("Expired finished jobs.", "count", len(expired), "remaining", s.registry.Len())
	}
	return len(expired)
}
