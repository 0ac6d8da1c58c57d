package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/domain"
)

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	Statuses   []domain.JobStatus
	TemplateID string
}

// Matches reports whether job satisfies the filter.
func (f JobFilter) Matches(job *domain.Job) bool {
	if f.TemplateID != "" && job.TemplateID != f.TemplateID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if job.Status == s {
			return true
		}
	}
	return false
}

// JobStore defines the interface for durable job persistence.
// Implementations must return jobs from ListJobs in dispatch order:
// priority descending, then creation time ascending.
type JobStore interface {
	// SaveJob persists a new job.
	// Returns ErrDuplicate if a job with the same id already exists.
	SaveJob(ctx context.Context, job *domain.Job) error

	// UpdateJob overwrites the mutable fields of an existing job.
	// Returns ErrJobNotFound if the job does not exist.
	UpdateJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by id.
	// Returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ListJobs returns the jobs matching the filter.
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error)

	// DeleteJob removes a job.
	// Returns ErrJobNotFound if the job does not exist.
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// DeleteJobsByStatus removes every job in one of the listed statuses
	// and returns the ids that were removed.
	DeleteJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]uuid.UUID, error)

	// CountByStatus returns the number of jobs per status.
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}
