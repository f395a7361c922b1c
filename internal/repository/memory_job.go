package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
)

// MemoryJobStore keeps the jobs of one category in process memory
type MemoryJobStore struct {
	category types.Category
	jobs     map[string]*types.Job
	mu       sync.RWMutex
}

// NewMemoryJobStore creates a new in-memory job store
func NewMemoryJobStore(category types.Category) *MemoryJobStore {
	return &MemoryJobStore{
		category: category,
		jobs:     make(map[string]*types.Job),
	}
}

// Upsert inserts or replaces a job
func (r *MemoryJobStore) Upsert(ctx context.Context, job *types.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := job.Clone()
	if existing, ok := r.jobs[job.ID]; ok && c.CreatedAt.IsZero() {
		c.CreatedAt = existing.CreatedAt
	}
	r.jobs[job.ID] = c
	return nil
}

// Get retrieves a job by ID
func (r *MemoryJobStore) Get(ctx context.Context, id string) (*types.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[id]
	if !exists {
		return nil, errors.NotFoundError("job", id)
	}
	return job.Clone(), nil
}

// Remove deletes a job
func (r *MemoryJobStore) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, id)
	return nil
}

// DueJobs returns queued jobs due at now, oldest first
func (r *MemoryJobStore) DueJobs(ctx context.Context, now time.Time) ([]*types.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*types.Job, 0)
	for _, j := range r.jobs {
		if j.Status == types.JobStatusQueued && !j.NextRunAt.After(now) {
			jobs = append(jobs, j.Clone())
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

// NextRunTime returns the earliest run time of any queued job
func (r *MemoryJobStore) NextRunTime(ctx context.Context) (time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var next time.Time
	found := false
	for _, j := range r.jobs {
		if j.Status != types.JobStatusQueued {
			continue
		}
		if !found || j.NextRunAt.Before(next) {
			next = j.NextRunAt
			found = true
		}
	}
	return next, found, nil
}

// Recover puts running jobs back to queued and returns all pending jobs
func (r *MemoryJobStore) Recover(ctx context.Context) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*types.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j.Status == types.JobStatusRunning {
			j.Status = types.JobStatusQueued
			j.UpdatedAt = time.Now().UTC()
		}
		jobs = append(jobs, j.Clone())
	}
	sortJobs(jobs)
	return jobs, nil
}

// List returns all jobs
func (r *MemoryJobStore) List(ctx context.Context) ([]*types.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*types.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j.Clone())
	}
	sortJobs(jobs)
	return jobs, nil
}

func sortJobs(jobs []*types.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].NextRunAt.Equal(jobs[k].NextRunAt) {
			return jobs[i].NextRunAt.Before(jobs[k].NextRunAt)
		}
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
