// Package retention periodically removes terminal jobs past their age limit.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/psantana5/parbench/pkg/logging"
	"github.com/psantana5/parbench/pkg/models"
)

// Config defines the retention policy
type Config struct {
	Enabled  bool
	Interval time.Duration
	MaxAge   time.Duration
}

// Jobs is the job table as seen by the sweeper
type Jobs interface {
	List() []*models.Job
	Delete(id string) error
}

// Files removes a job's on-disk directories
type Files interface {
	Cleanup(jobID string) error
}

// Stats tracks sweep operations
type Stats struct {
	LastSweepTime     time.Time     `json:"last_sweep_time"`
	LastSweepDuration time.Duration `json:"last_sweep_duration"`
	TotalJobsRemoved  int64         `json:"total_jobs_removed"`
	TotalSweeps       int64         `json:"total_sweeps"`
}

// Sweeper deletes completed and failed jobs (record and files) once they
// are older than MaxAge. Active jobs are never touched.
type Sweeper struct {
	config Config
	jobs   Jobs
	files  Files
	logger *logging.Logger

	// AfterSweep, if set, runs at the end of every sweep
	AfterSweep func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New creates a sweeper
func New(config Config, jobs Jobs, files Files, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		config: config,
		jobs:   jobs,
		files:  files,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins periodic sweeping. A disabled sweeper does nothing.
func (s *Sweeper) Start() {
	if !s.config.Enabled {
		s.logger.Debug("Retention sweeper disabled")
		return
	}
	s.logger.Info("Starting retention sweeper", map[string]interface{}{
		"max_age":  s.config.MaxAge.String(),
		"interval": s.config.Interval.String(),
	})

	s.wg.Add(1)
	go s.loop()
}

// Stop halts the sweeper and waits for an in-progress sweep
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep removes every terminal job whose completion (or creation, when
// completion is unknown) is older than now - MaxAge. Returns the number removed.
func (s *Sweeper) Sweep(now time.Time) int {
	start := time.Now()
	cutoff := now.Add(-s.config.MaxAge)

	removed := 0
	for _, job := range s.jobs.List() {
		if !models.IsTerminalState(job.Status) {
			continue
		}
		ref := job.CreatedAt
		if job.CompletedAt != nil {
			ref = *job.CompletedAt
		}
		if !ref.Before(cutoff) {
			continue
		}

		if s.files != nil {
			_ = s.files.Cleanup(job.ID)
		}
		if err := s.jobs.Delete(job.ID); err != nil {
			s.logger.Warn("Failed to remove expired job", map[string]interface{}{"job_id": job.ID, "error": err})
			continue
		}
		removed++
	}

	if s.AfterSweep != nil {
		s.AfterSweep()
	}

	elapsed := time.Since(start)
	s.mu.Lock()
	s.stats.LastSweepTime = now
	s.stats.LastSweepDuration = elapsed
	s.stats.TotalJobsRemoved += int64(removed)
	s.stats.TotalSweeps++
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("Removed expired jobs", map[string]interface{}{"count": removed, "duration_ms": elapsed.Milliseconds()})
	}
	return removed
}

// GetStats returns a copy of the sweep statistics
func (s *Sweeper) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
