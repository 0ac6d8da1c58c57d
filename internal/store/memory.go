package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/domain"
)

// MemoryJobStore is a JobStore kept entirely in process memory. It backs
// the "memory" database driver and the scheduler tests.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*domain.Job
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

var _ JobStore = (*MemoryJobStore)(nil)

// SaveJob implements JobStore.
func (s *MemoryJobStore) SaveJob(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", ErrDuplicate, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// UpdateJob implements JobStore.
func (s *MemoryJobStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob implements JobStore.
func (s *MemoryJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// ListJobs implements JobStore.
func (s *MemoryJobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	s.mu.RLock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Matches(job) {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return domain.Before(out[i], out[j]) })
	return out, nil
}

// DeleteJob implements JobStore.
func (s *MemoryJobStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// DeleteJobsByStatus implements JobStore.
func (s *MemoryJobStore) DeleteJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]uuid.UUID, error) {
	filter := JobFilter{Statuses: statuses}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []uuid.UUID
	for id, job := range s.jobs {
		if filter.Matches(job) {
			delete(s.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// CountByStatus implements JobStore.
func (s *MemoryJobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}
