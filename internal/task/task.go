package task

import (
	"context"
	"errors"
	"time"

	"github.com/lin-1259/ai-xiutu/internal/domain"
)

// Common errors returned by the TaskRunner.
var (
	// ErrNotRunning is returned when an operation needs a running job.
	ErrNotRunning = errors.New("job is not running")

	// ErrJobRunning is returned when an operation needs a job that is not running.
	ErrJobRunning = errors.New("job is running")

	// ErrJobFinished is returned when cancelling a Completed or Failed job.
	ErrJobFinished = errors.New("job already finished")

	// ErrNotRetryable is returned when retrying a job that has not failed.
	ErrNotRetryable = errors.New("only failed jobs can be retried")

	// ErrRetryLimit is returned when a retry would exceed the job's maxRetries.
	ErrRetryLimit = errors.New("retry limit reached")

	// ErrRunnerStopped is returned for operations on a runner that is not started or stopped.
	ErrRunnerStopped = errors.New("task runner is not running")
)

// Progress checkpoints reported by the job pipeline.
const (
	ProgressStarted    = 10
	ProgressLoaded     = 25
	ProgressTranscoded = 40
	ProgressDispatched = 80
	ProgressStored     = 95
	ProgressComplete   = 100
)

// ReportFunc lets an executing job report progress and status changes.
// Status is Processing, or Retrying while waiting out a rate limit.
type ReportFunc func(progress int, status domain.JobStatus)

// Outcome is the result of a successful job execution.
type Outcome struct {
	Result    domain.JobResult
	Cost      float64
	ImageHash string
}

// Executor runs one job attempt. It must return promptly once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, report ReportFunc) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *domain.Job, report ReportFunc) (Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *domain.Job, report ReportFunc) (Outcome, error) {
	return f(ctx, job, report)
}

// TemplateSource resolves template ids at submission time.
type TemplateSource interface {
	Get(id string) (domain.Template, error)
}

// ImageSource reports whether a staged image exists.
type ImageSource interface {
	Exists(id string) bool
}

// SubmitRequest describes a new job.
type SubmitRequest struct {
	ImageID    string `validate:"required"`
	TemplateID string `validate:"required"`
	SourceName string
	OutputDir  string
	Priority   *int
	MaxRetries *int `validate:"omitempty,gte=0"`
}

// Stats summarizes the queue.
type Stats struct {
	Counts      map[domain.JobStatus]int `json:"counts"`
	Total       int                      `json:"total"`
	Running     int                      `json:"running"`
	Ready       int                      `json:"ready"`
	Held        int                      `json:"held"`
	Concurrency int                      `json:"concurrency"`
	TotalCost   float64                  `json:"total_cost"`
}

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// MaxConcurrency caps the number of jobs running at once
	MaxConcurrency int

	// DefaultPriority is used when a submission has no priority
	DefaultPriority int

	// DefaultMaxRetries is used when a submission has no maxRetries
	DefaultMaxRetries int

	// OutputDir is used when a submission has no output directory
	OutputDir string

	// MessageBuffer is the capacity of the worker message channel
	MessageBuffer int
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		MaxConcurrency:    3,
		DefaultPriority:   domain.DefaultPriority,
		DefaultMaxRetries: domain.DefaultMaxRetries,
		MessageBuffer:     64,
	}
}

// clock is swapped in tests.
type clock func() time.Time
