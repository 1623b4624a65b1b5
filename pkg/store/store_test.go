package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/parbench/pkg/models"
)

func newJob(id string) *models.Job {
	return &models.Job{
		ID:        id,
		Status:    models.JobStatusQueued,
		Message:   "Queued",
		Feature:   "grayscale",
		Config:    models.JobConfig{PthreadThreads: 4, OpenMPThreads: 8},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestPostgreSQLStore runs against a real database.
// Set DATABASE_DSN to run: export DATABASE_DSN="postgresql://..."
func TestPostgreSQLStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: DATABASE_DSN not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewStore(Config{Type: "postgres", DSN: dsn})
		if err != nil {
			t.Fatalf("Failed to create PostgreSQL store: %v", err)
		}
		t.Cleanup(func() {
			for _, j := range s.GetAllJobs() {
				s.DeleteJob(j.ID)
			}
			s.Close()
		})
		return s
	})
}

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := open(t)
		job := newJob("job-create")
		if err := s.CreateJob(job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}

		got, err := s.GetJob("job-create")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status != models.JobStatusQueued || got.Config.OpenMPThreads != 8 || got.Feature != "grayscale" {
			t.Errorf("unexpected job: %+v", got)
		}

		if err := s.CreateJob(newJob("job-create")); !errors.Is(err, ErrJobExists) {
			t.Errorf("duplicate CreateJob error = %v, want ErrJobExists", err)
		}
		if _, err := s.GetJob("missing"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("GetJob(missing) error = %v, want ErrJobNotFound", err)
		}
	})

	t.Run("ReplaceFollowsFSM", func(t *testing.T) {
		s := open(t)
		job := newJob("job-fsm")
		if err := s.CreateJob(job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}

		next := job.Clone()
		next.Status = models.JobStatusCompiling
		next.Progress = 10
		if err := s.ReplaceJob(next); err != nil {
			t.Fatalf("ReplaceJob(compiling): %v", err)
		}

		skip := next.Clone()
		skip.Status = models.JobStatusCompleted
		if err := s.ReplaceJob(skip); err == nil {
			t.Error("expected compiling -> completed to be rejected")
		}

		failed := next.Clone()
		failed.Status = models.JobStatusFailed
		failed.Error = "boom"
		if err := s.ReplaceJob(failed); err != nil {
			t.Fatalf("ReplaceJob(failed): %v", err)
		}
		again := failed.Clone()
		if err := s.ReplaceJob(again); err == nil {
			t.Error("expected terminal record to be immutable")
		}

		got, _ := s.GetJob("job-fsm")
		if got.Status != models.JobStatusFailed || got.Error != "boom" || got.Progress != 10 {
			t.Errorf("unexpected job after replace: %+v", got)
		}

		ghost := newJob("ghost")
		if err := s.ReplaceJob(ghost); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("ReplaceJob(ghost) error = %v, want ErrJobNotFound", err)
		}
	})

	t.Run("SnapshotsAreCopies", func(t *testing.T) {
		s := open(t)
		job := newJob("job-copy")
		s.CreateJob(job)
		job.Message = "mutated after create"

		got, _ := s.GetJob("job-copy")
		if got.Message != "Queued" {
			t.Errorf("store shares memory with caller: %q", got.Message)
		}
		got.Message = "mutated after get"
		again, _ := s.GetJob("job-copy")
		if again.Message != "Queued" {
			t.Errorf("store shares memory with snapshot: %q", again.Message)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 3; i++ {
			j := newJob(fmt.Sprintf("job-list-%d", i))
			j.CreatedAt = j.CreatedAt.Add(time.Duration(i) * time.Second)
			s.CreateJob(j)
		}
		running := newJob("job-list-running")
		s.CreateJob(running)
		r := running.Clone()
		r.Status = models.JobStatusCompiling
		s.ReplaceJob(r)

		if all := s.GetAllJobs(); len(all) != 4 {
			t.Fatalf("GetAllJobs returned %d jobs, want 4", len(all))
		}
		queued, err := s.GetJobsInState(models.JobStatusQueued)
		if err != nil {
			t.Fatalf("GetJobsInState: %v", err)
		}
		if len(queued) != 3 || queued[0].ID != "job-list-0" {
			t.Errorf("unexpected queued jobs: %d", len(queued))
		}

		if err := s.DeleteJob("job-list-1"); err != nil {
			t.Fatalf("DeleteJob: %v", err)
		}
		if err := s.DeleteJob("job-list-1"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("second DeleteJob error = %v, want ErrJobNotFound", err)
		}
		if err := s.HealthCheck(); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})

	t.Run("ConcurrentReplace", func(t *testing.T) {
		s := open(t)
		const numJobs = 10
		var wg sync.WaitGroup
		errs := make(chan error, numJobs)

		for i := 0; i < numJobs; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				job := newJob(fmt.Sprintf("job-conc-%d", idx))
				if err := s.CreateJob(job); err != nil {
					errs <- err
					return
				}
				for _, st := range []models.JobStatus{models.JobStatusCompiling, models.JobStatusRunningSequential} {
					next := job.Clone()
					next.Status = st
					if err := s.ReplaceJob(next); err != nil {
						errs <- err
						return
					}
					job = next
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("concurrent operation failed: %v", err)
		}
		jobs, _ := s.GetJobsInState(models.JobStatusRunningSequential)
		if len(jobs) != numJobs {
			t.Errorf("expected %d running jobs, got %d", numJobs, len(jobs))
		}
	})
}

func TestNewStoreUnsupported(t *testing.T) {
	if _, err := NewStore(Config{Type: "mongo"}); !errors.Is(err, ErrUnsupportedDatabase) {
		t.Errorf("expected ErrUnsupportedDatabase, got %v", err)
	}
	s, err := NewStore(Config{})
	if err != nil {
		t.Fatalf("default store: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("default store is %T, want *MemoryStore", s)
	}
}

func TestDollarPlaceholders(t *testing.T) {
	got := dollarPlaceholders("UPDATE jobs SET a = ?, b = ? WHERE id = ?")
	want := "UPDATE jobs SET a = $1, b = $2 WHERE id = $3"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
