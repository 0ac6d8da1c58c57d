package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/config"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/events"
	"github.com/lin-1259/ai-xiutu/internal/store"
)

type runnerState int

const (
	stateNew runnerState = iota
	stateRunning
	stateStopped
)

// Deps are the collaborators of a TaskRunner.
type Deps struct {
	Store     store.JobStore
	Executor  Executor
	Templates TemplateSource
	Images    ImageSource
	Emitter   events.EventEmitter
}

// runningJob tracks one in-flight attempt. Messages carrying another attempt
// number are from a terminated worker and are discarded.
type runningJob struct {
	job     *domain.Job
	attempt uint64
	cancel  context.CancelFunc
}

type msgKind int

const (
	msgProgress msgKind = iota
	msgCompleted
	msgFailed
)

// workerMsg is sent from a worker to the coordinator.
type workerMsg struct {
	jobID    uuid.UUID
	attempt  uint64
	kind     msgKind
	progress int
	status   domain.JobStatus
	outcome  Outcome
	err      string
}

// TaskRunner is the job scheduler. A single coordinator goroutine owns the
// ready set and the in-memory job state and is the only writer of job records
// once a job has been submitted. Each started job runs in its own worker
// goroutine, which reports back over a message channel.
type TaskRunner struct {
	store     store.JobStore
	executor  Executor
	templates TemplateSource
	images    ImageSource
	emitter   events.EventEmitter
	config    TaskRunnerConfig
	logger    *slog.Logger
	validate  *validator.Validate
	now       clock

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	msgs   chan workerMsg
	done   chan struct{}
	wg     sync.WaitGroup

	mu    sync.Mutex
	state runnerState

	// Owned by the coordinator goroutine.
	ready       *readyQueue
	active      map[uuid.UUID]*domain.Job
	running     map[uuid.UUID]*runningJob
	held        map[uuid.UUID]*domain.Job
	attempts    uint64

	// Read freely by the coordinator; written and read elsewhere under mu.
	concurrency int
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(deps Deps, cfg TaskRunnerConfig, logger *slog.Logger) (*TaskRunner, error) {
	if deps.Store == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = DefaultTaskRunnerConfig().MessageBuffer
	}
	cfg.MaxConcurrency = config.ClampConcurrency(cfg.MaxConcurrency)

	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRunner{
		store:       deps.Store,
		executor:    deps.Executor,
		templates:   deps.Templates,
		images:      deps.Images,
		emitter:     deps.Emitter,
		config:      cfg,
		logger:      logger.With("component", "task_runner"),
		validate:    validator.New(),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		cmds:        make(chan func()),
		msgs:        make(chan workerMsg, cfg.MessageBuffer),
		done:        make(chan struct{}),
		ready:       newReadyQueue(),
		active:      make(map[uuid.UUID]*domain.Job),
		running:     make(map[uuid.UUID]*runningJob),
		held:        make(map[uuid.UUID]*domain.Job),
		concurrency: cfg.MaxConcurrency,
	}, nil
}

// Start recovers unfinished jobs from the store and starts the coordinator.
func (r *TaskRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateNew {
		return errors.New("task runner already started")
	}
	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	r.state = stateRunning
	go r.loop()
	r.logger.Info("task runner started", "concurrency", r.concurrency)
	return nil
}

// Stop terminates all workers and the coordinator. Jobs left Processing are
// re-queued by Recover on the next start.
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	previous := r.state
	r.state = stateStopped
	r.mu.Unlock()

	r.cancel()
	if previous == stateRunning {
		<-r.done
	}
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

// Recover loads unfinished jobs into the ready set. Jobs persisted as
// Processing or Retrying belong to an interrupted run and are reset to Pending.
func (r *TaskRunner) Recover(ctx context.Context) error {
	jobs, err := r.store.ListJobs(ctx, store.JobFilter{Statuses: []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusRetrying,
		domain.JobStatusProcessing,
	}})
	if err != nil {
		return fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	pending, interrupted := 0, 0
	for _, job := range jobs {
		if job.Status != domain.JobStatusPending {
			job.MarkPending()
			if err := r.store.UpdateJob(ctx, job); err != nil {
				r.logger.Error("failed to reset interrupted job", "job_id", job.ID, "error", err)
				continue
			}
			interrupted++
		} else {
			pending++
		}
		r.active[job.ID] = job
		r.ready.Push(job)
	}

	r.logger.Info("recovering unfinished jobs",
		"pending_count", pending,
		"interrupted_count", interrupted)
	return nil
}

// isRunning reports whether the coordinator accepts commands.
func (r *TaskRunner) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning
}

// call runs fn on the coordinator goroutine and waits for it to finish.
func (r *TaskRunner) call(ctx context.Context, fn func()) error {
	if !r.isRunning() {
		return ErrRunnerStopped
	}
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (r *TaskRunner) loop() {
	defer close(r.done)
	r.dispatch()
	for {
		select {
		case <-r.ctx.Done():
			for _, rj := range r.running {
				rj.cancel()
			}
			return
		case cmd := <-r.cmds:
			cmd()
		case msg := <-r.msgs:
			r.handleMessage(msg)
		}
	}
}

// dispatch starts ready jobs while concurrency slots are free.
func (r *TaskRunner) dispatch() {
	for len(r.running) < r.concurrency {
		job := r.ready.Pop()
		if job == nil {
			return
		}
		job.MarkProcessing(r.now())
		if err := r.persist(job); err != nil {
			r.logger.Error("failed to mark job processing, dropping from ready set",
				"job_id", job.ID, "error", err)
			delete(r.active, job.ID)
			continue
		}

		r.attempts++
		ctx, cancel := context.WithCancel(r.ctx)
		rj := &runningJob{job: job, attempt: r.attempts, cancel: cancel}
		r.running[job.ID] = rj
		r.emit(events.TypeProgress, job)

		r.logger.Debug("job started",
			"job_id", job.ID,
			"priority", job.Priority,
			"attempt", rj.attempt,
			"running", len(r.running))
		r.wg.Add(1)
		go r.work(ctx, job.Clone(), rj.attempt)
	}
}

func (r *TaskRunner) handleMessage(msg workerMsg) {
	rj, ok := r.running[msg.jobID]
	if !ok || rj.attempt != msg.attempt {
		r.logger.Debug("discarding message from terminated attempt",
			"job_id", msg.jobID, "attempt", msg.attempt)
		return
	}
	job := rj.job

	switch msg.kind {
	case msgProgress:
		progress := msg.progress
		if progress < 0 {
			progress = 0
		}
		if progress > 99 {
			progress = 99
		}
		job.Progress = progress
		if msg.status == domain.JobStatusRetrying || msg.status == domain.JobStatusProcessing {
			job.Status = msg.status
		}
		if err := r.persist(job); err != nil {
			r.logger.Warn("failed to persist job progress", "job_id", job.ID, "error", err)
		}
		r.emit(events.TypeProgress, job)
		return

	case msgCompleted:
		r.finish(rj)
		if msg.outcome.ImageHash != "" {
			job.ImageHash = msg.outcome.ImageHash
		}
		job.MarkCompleted(r.now(), msg.outcome.Result, msg.outcome.Cost)
		if err := r.persist(job); err != nil {
			r.logger.Error("failed to persist completed job", "job_id", job.ID, "error", err)
		}
		r.logger.Info("job completed",
			"job_id", job.ID,
			"output_path", job.Result.OutputPath,
			"cached", job.Result.Cached)
		r.emit(events.TypeCompleted, job)

	case msgFailed:
		r.finish(rj)
		job.MarkFailed(r.now(), msg.err)
		if err := r.persist(job); err != nil {
			r.logger.Error("failed to persist failed job", "job_id", job.ID, "error", err)
		}
		r.logger.Warn("job failed", "job_id", job.ID, "error", job.ErrorMessage())
		r.emit(events.TypeFailed, job)
	}
	r.dispatch()
}

// finish releases the worker slot of rj.
func (r *TaskRunner) finish(rj *runningJob) {
	rj.cancel()
	delete(r.running, rj.job.ID)
	delete(r.active, rj.job.ID)
}

func (r *TaskRunner) persist(job *domain.Job) error {
	return r.store.UpdateJob(r.ctx, job)
}

func (r *TaskRunner) emit(t events.Type, job *domain.Job) {
	if r.emitter == nil {
		return
	}
	if err := r.emitter.EmitEvent(r.ctx, events.NewJobEvent(t, job)); err != nil {
		r.logger.Warn("event handler failed", "job_id", job.ID, "event_type", t, "error", err)
	}
}

// Submit validates and persists a new Pending job, then adds it to the ready
// set. The returned job is a snapshot.
func (r *TaskRunner) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	req.ImageID = strings.TrimSpace(req.ImageID)
	req.TemplateID = strings.TrimSpace(req.TemplateID)
	if err := r.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	params := domain.Params{}.WithDefaults()
	if r.templates != nil {
		tpl, err := r.templates.Get(req.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		params = tpl.Params.WithDefaults()
	}
	if r.images != nil && !r.images.Exists(req.ImageID) {
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrValidation, domain.ErrImageNotFound, req.ImageID)
	}

	job := &domain.Job{
		ID:         uuid.New(),
		ImageID:    req.ImageID,
		SourceName: req.SourceName,
		TemplateID: req.TemplateID,
		Params:     params,
		OutputDir:  req.OutputDir,
		Status:     domain.JobStatusPending,
		Priority:   r.config.DefaultPriority,
		CreatedAt:  r.now().UTC(),
		MaxRetries: r.config.DefaultMaxRetries,
	}
	if job.OutputDir == "" {
		job.OutputDir = r.config.OutputDir
	}
	if req.Priority != nil {
		job.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}
	return r.enqueueNew(ctx, job)
}

// enqueueNew persists job and hands a copy to the coordinator.
func (r *TaskRunner) enqueueNew(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if err := r.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	queued := job.Clone()
	err := r.call(ctx, func() {
		if _, exists := r.active[queued.ID]; exists {
			return
		}
		r.active[queued.ID] = queued
		r.ready.Push(queued)
		r.dispatch()
	})
	if err != nil {
		// The job is durable; Recover picks it up on the next start.
		r.logger.Warn("job persisted but not queued", "job_id", job.ID, "error", err)
	}
	r.logger.Debug("job submitted", "job_id", job.ID, "template_id", job.TemplateID, "priority", job.Priority)
	return job, nil
}

// Pause terminates the worker running id and returns the job to Pending,
// held out of the ready set until Resume. It reports false when id is not
// running.
func (r *TaskRunner) Pause(ctx context.Context, id uuid.UUID) (bool, error) {
	paused := false
	err := r.call(ctx, func() {
		rj, ok := r.running[id]
		if !ok {
			return
		}
		rj.cancel()
		delete(r.running, id)

		job := rj.job
		job.MarkPending()
		r.held[id] = job
		if err := r.persist(job); err != nil {
			r.logger.Error("failed to persist paused job", "job_id", id, "error", err)
		}
		r.emit(events.TypeProgress, job)
		paused = true
		r.logger.Info("job paused", "job_id", id)
		r.dispatch()
	})
	return paused, err
}

// Resume forces a job that is not Processing back to Pending and re-triggers
// dispatch. It is a no-op for a running job.
func (r *TaskRunner) Resume(ctx context.Context, id uuid.UUID) error {
	var opErr error
	err := r.call(ctx, func() {
		if _, ok := r.running[id]; ok {
			return
		}
		if r.ready.Contains(id) {
			return
		}
		job, ok := r.held[id]
		if ok {
			delete(r.held, id)
		} else {
			stored, err := r.store.GetJob(r.ctx, id)
			if err != nil {
				opErr = err
				return
			}
			job = stored
			r.active[id] = job
		}

		job.MarkPending()
		if err := r.persist(job); err != nil {
			opErr = fmt.Errorf("failed to persist resumed job: %w", err)
			delete(r.active, id)
			return
		}
		r.ready.Push(job)
		r.emit(events.TypeProgress, job)
		r.logger.Info("job resumed", "job_id", id)
		r.dispatch()
	})
	if err != nil {
		return err
	}
	return opErr
}

// Cancel terminates any running worker and fails the job with the
// "cancelled" message. Finished jobs are rejected with ErrJobFinished.
func (r *TaskRunner) Cancel(ctx context.Context, id uuid.UUID) error {
	var opErr error
	err := r.call(ctx, func() {
		var job *domain.Job
		if rj, ok := r.running[id]; ok {
			rj.cancel()
			delete(r.running, id)
			job = rj.job
		} else if held, ok := r.held[id]; ok {
			delete(r.held, id)
			job = held
		} else if queued, ok := r.ready.Remove(id); ok {
			job = queued
		} else {
			stored, err := r.store.GetJob(r.ctx, id)
			if err != nil {
				opErr = err
				return
			}
			if stored.Status.Terminal() {
				opErr = ErrJobFinished
				return
			}
			job = stored
		}
		delete(r.active, id)

		job.MarkFailed(r.now(), domain.CancelledMessage)
		if err := r.persist(job); err != nil {
			r.logger.Error("failed to persist cancelled job", "job_id", id, "error", err)
		}
		r.emit(events.TypeFailed, job)
		r.logger.Info("job cancelled", "job_id", id)
		r.dispatch()
	})
	if err != nil {
		return err
	}
	return opErr
}

// Retry submits a new job for the same image, template and parameters as the
// failed job id, with retryCount incremented and retryOf set.
func (r *TaskRunner) Retry(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	old, err := r.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.Status != domain.JobStatusFailed {
		return nil, ErrNotRetryable
	}
	if old.RetryCount+1 > old.MaxRetries {
		return nil, fmt.Errorf("%w: %d of %d retries used", ErrRetryLimit, old.RetryCount, old.MaxRetries)
	}

	job := &domain.Job{
		ID:         uuid.New(),
		ImageID:    old.ImageID,
		ImageHash:  old.ImageHash,
		SourceName: old.SourceName,
		TemplateID: old.TemplateID,
		Params:     old.Params,
		OutputDir:  old.OutputDir,
		Status:     domain.JobStatusPending,
		Priority:   old.Priority,
		CreatedAt:  r.now().UTC(),
		RetryCount: old.RetryCount + 1,
		MaxRetries: old.MaxRetries,
		RetryOf:    &old.ID,
	}
	return r.enqueueNew(ctx, job)
}

// Delete removes a job that is not running.
func (r *TaskRunner) Delete(ctx context.Context, id uuid.UUID) error {
	var opErr error
	err := r.call(ctx, func() {
		if _, ok := r.running[id]; ok {
			opErr = ErrJobRunning
			return
		}
		if err := r.store.DeleteJob(r.ctx, id); err != nil {
			opErr = err
			return
		}
		r.ready.Remove(id)
		delete(r.held, id)
		delete(r.active, id)
	})
	if err != nil {
		return err
	}
	return opErr
}

// ClearTerminal deletes every Completed and Failed job.
func (r *TaskRunner) ClearTerminal(ctx context.Context) ([]uuid.UUID, error) {
	var removed []uuid.UUID
	var opErr error
	err := r.call(ctx, func() {
		removed, opErr = r.store.DeleteJobsByStatus(r.ctx, domain.JobStatusCompleted, domain.JobStatusFailed)
	})
	if err != nil {
		return nil, err
	}
	return removed, opErr
}

// SetConcurrency changes the worker cap, clamped to the supported range.
// Lowering it does not terminate running jobs.
func (r *TaskRunner) SetConcurrency(ctx context.Context, n int) (int, error) {
	n = config.ClampConcurrency(n)

	r.mu.Lock()
	if r.state == stateNew {
		r.concurrency = n
		r.mu.Unlock()
		return n, nil
	}
	r.mu.Unlock()

	err := r.call(ctx, func() {
		r.mu.Lock()
		r.concurrency = n
		r.mu.Unlock()
		r.logger.Info("concurrency changed", "concurrency", n)
		r.dispatch()
	})
	return n, err
}

// Get returns a job by id.
func (r *TaskRunner) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return r.store.GetJob(ctx, id)
}

// Query returns jobs matching filter in dispatch order.
func (r *TaskRunner) Query(ctx context.Context, filter store.JobFilter) ([]*domain.Job, error) {
	return r.store.ListJobs(ctx, filter)
}

// Stats returns queue statistics.
func (r *TaskRunner) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := r.call(ctx, func() {
		stats.Running = len(r.running)
		stats.Ready = r.ready.Len()
		stats.Held = len(r.held)
		stats.Concurrency = r.concurrency
	})
	if errors.Is(err, ErrRunnerStopped) {
		r.mu.Lock()
		stats.Concurrency = r.concurrency
		r.mu.Unlock()
	} else if err != nil {
		return Stats{}, err
	}

	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.Counts = counts
	for _, n := range counts {
		stats.Total += n
	}

	jobs, err := r.store.ListJobs(ctx, store.JobFilter{Statuses: []domain.JobStatus{domain.JobStatusCompleted}})
	if err != nil {
		return Stats{}, err
	}
	for _, job := range jobs {
		stats.TotalCost += job.Cost
	}
	return stats, nil
}
