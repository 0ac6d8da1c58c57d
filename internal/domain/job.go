package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// CancelledMessage is the error text recorded on a job that was cancelled.
const CancelledMessage = "cancelled"

// Default values applied to submissions that omit them.
const (
	DefaultPriority   = 0
	DefaultMaxRetries = 3
)

// Common validation errors for Job
var (
	ErrEmptyImageID    = errors.New("job image ID cannot be empty")
	ErrEmptyTemplateID = errors.New("job template ID cannot be empty")
	ErrInvalidStatus   = errors.New("invalid job status")
	ErrInvalidProgress = errors.New("job progress must be between 0 and 100")
	ErrResultAndError  = errors.New("job cannot carry both a result and an error")
)

// Params are the resolved transformation parameters of a template.
type Params struct {
	Strength       float64 `json:"strength"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Resolution     int     `json:"resolution"`
	Quality        string  `json:"quality"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
}

// JobResult describes the output of a completed job.
type JobResult struct {
	OutputPath       string `json:"output_path"`
	MIME             string `json:"mime"`
	Size             int64  `json:"size"`
	CacheKey         string `json:"cache_key,omitempty"`
	Cached           bool   `json:"cached"`
	ProviderID       string `json:"provider_id,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// Job is one unit of (source image, template, parameters) work tracked
// through the scheduler lifecycle. Result and Error are mutually exclusive
// and both nil while the job is not terminal.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	ImageID     string     `json:"image_id"`
	ImageHash   string     `json:"image_hash,omitempty"`
	SourceName  string     `json:"source_name,omitempty"`
	TemplateID  string     `json:"template_id"`
	Params      Params     `json:"params"`
	OutputDir   string     `json:"output_dir,omitempty"`
	Status      JobStatus  `json:"status"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	RetryOf     *uuid.UUID `json:"retry_of,omitempty"`
	Progress    int        `json:"progress"`
	Result      *JobResult `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Cost        float64    `json:"cost"`
}

// Validate checks the invariants of a job record.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.ImageID) == "" {
		return fmt.Errorf("%w: %v", ErrValidation, ErrEmptyImageID)
	}
	if strings.TrimSpace(j.TemplateID) == "" {
		return fmt.Errorf("%w: %v", ErrValidation, ErrEmptyTemplateID)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: %v %q", ErrValidation, ErrInvalidStatus, j.Status)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("%w: %v", ErrValidation, ErrInvalidProgress)
	}
	if j.Result != nil && j.Error != nil {
		return fmt.Errorf("%w: %v", ErrValidation, ErrResultAndError)
	}
	return nil
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.RetryOf != nil {
		id := *j.RetryOf
		c.RetryOf = &id
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

// MarkProcessing transitions the job to Processing with a start timestamp.
func (j *Job) MarkProcessing(now time.Time) {
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.CompletedAt = nil
	j.Progress = 0
	j.Result = nil
	j.Error = nil
}

// MarkPending resets the job to a queued state.
func (j *Job) MarkPending() {
	j.Status = JobStatusPending
	j.Progress = 0
	j.StartedAt = nil
	j.CompletedAt = nil
	j.Result = nil
	j.Error = nil
}

// MarkCompleted records a successful result. Cost is accumulated once per success.
func (j *Job) MarkCompleted(now time.Time, result JobResult, cost float64) {
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.CompletedAt = &now
	j.Result = &result
	j.Error = nil
	j.Cost += cost
}

// MarkFailed records a terminal failure with a human readable message.
func (j *Job) MarkFailed(now time.Time, message string) {
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Result = nil
	j.Error = &message
}

// ErrorMessage returns the failure message or an empty string.
func (j *Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusRetrying:
		return true
	}
	return false
}

// Terminal reports whether the status is Completed or Failed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParseJobStatus converts user input into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %v %q", ErrValidation, ErrInvalidStatus, s)
	}
	return status, nil
}

// Before reports whether a should be started before b: higher priority
// first, then earlier creation time, then id for a total order.
func Before(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
