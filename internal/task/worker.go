package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
	"github.com/lin-1259/ai-xiutu/internal/redact"
)

// work runs one attempt of job and reports the outcome to the coordinator.
// An attempt whose context was cancelled exits without reporting.
func (r *TaskRunner) work(ctx context.Context, job *domain.Job, attempt uint64) {
	defer r.wg.Done()

	log := r.logger.With("job_id", job.ID, "attempt", attempt)
	ctx = logger.WithLogger(ctx, log)

	report := func(progress int, status domain.JobStatus) {
		r.send(ctx, workerMsg{
			jobID:    job.ID,
			attempt:  attempt,
			kind:     msgProgress,
			progress: progress,
			status:   status,
		})
	}

	start := time.Now()
	outcome, err := r.execute(ctx, job, report)
	if ctx.Err() != nil {
		log.Debug("attempt terminated", "elapsed", time.Since(start))
		return
	}

	if err != nil {
		r.send(ctx, workerMsg{
			jobID:   job.ID,
			attempt: attempt,
			kind:    msgFailed,
			err:     redact.Error(err),
		})
		return
	}
	r.send(ctx, workerMsg{
		jobID:   job.ID,
		attempt: attempt,
		kind:    msgCompleted,
		outcome: outcome,
	})
}

// execute calls the executor and turns a panic into a job failure.
func (r *TaskRunner) execute(ctx context.Context, job *domain.Job, report ReportFunc) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job executor panicked",
				"job_id", job.ID,
				"panic", p,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("worker fault: %v", p)
		}
	}()
	return r.executor.Execute(ctx, job, report)
}

// send delivers msg unless the attempt has been terminated.
func (r *TaskRunner) send(ctx context.Context, msg workerMsg) {
	select {
	case r.msgs <- msg:
	case <-ctx.Done():
	}
}
