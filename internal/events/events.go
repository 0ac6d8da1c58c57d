package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/domain"
)

// Type identifies the kind of job event.
type Type string

// Event types published by the scheduler.
const (
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
)

// JobEvent reports a change in a job's lifecycle. Events for a given job
// are published in the order the scheduler observed them.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is progress, completed or failed
	Type Type `json:"type"`

	// JobID identifies the job this event belongs to
	JobID uuid.UUID `json:"job_id"`

	// Status is the job status at the time of the event
	Status domain.JobStatus `json:"status"`

	// Progress is the job progress (0-100)
	Progress int `json:"progress"`

	// Result is set on completed events
	Result *domain.JobResult `json:"result,omitempty"`

	// Error is set on failed events
	Error string `json:"error,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewJobEvent builds an event from a job snapshot.
func NewJobEvent(eventType Type, job *domain.Job) *JobEvent {
	ev := &JobEvent{
		ID:        uuid.New(),
		Type:      eventType,
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		CreatedAt: time.Now(),
	}
	if job.Result != nil {
		r := *job.Result
		ev.Result = &r
	}
	if job.Error != nil {
		ev.Error = *job.Error
	}
	return ev
}

// EventHandler defines an interface for components that react to job events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Handlers run on the publisher's goroutine and must not block.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventHandlerFunc adapts a function into an EventHandler.
type EventHandlerFunc func(ctx context.Context, event *JobEvent) error

// HandleEvent calls f(ctx, event).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *JobEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers and subscribers.
	EmitEvent(ctx context.Context, event *JobEvent) error
}
