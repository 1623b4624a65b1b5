package store

import (
	"sort"
	"sync"

	"github.com/psantana5/parbench/pkg/models"
)

// MemoryStore is an in-memory implementation of the job table
type MemoryStore struct {
	jobs   map[string]*models.Job
	jobsMu sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
	}
}

// CreateJob adds a new job to the store
func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrJobExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob retrieves a snapshot of a job by ID
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// GetAllJobs returns snapshots of all jobs, oldest first
func (s *MemoryStore) GetAllJobs() []*models.Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sortJobs(jobs)
	return jobs
}

// GetJobsInState returns snapshots of all jobs in the given state
func (s *MemoryStore) GetJobsInState(state models.JobStatus) ([]*models.Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.Status == state {
			jobs = append(jobs, job.Clone())
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

// ReplaceJob swaps the stored record in one step
func (s *MemoryStore) ReplaceJob(job *models.Job) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	cur, ok := s.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	if err := checkReplace(cur, job); err != nil {
		return err
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// DeleteJob removes a job from the store
func (s *MemoryStore) DeleteJob(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

func sortJobs(jobs []*models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
