package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
	"github.com/lin-1259/ai-xiutu/internal/store"
)

// jobColumns lists the persisted job columns in table order.
const jobColumns = `id, image_id, image_hash, source_name, template_id, params, output_dir,
	status, priority, created_at, started_at, completed_at, retry_count, max_retries,
	retry_of, progress, result, error_message, cost`

// jobOrder is the dispatch order every listing uses.
const jobOrder = ` ORDER BY priority DESC, created_at ASC, id ASC`

// jobRow is the database representation of a job.
type jobRow struct {
	ID           string         `db:"id"`
	ImageID      string         `db:"image_id"`
	ImageHash    string         `db:"image_hash"`
	SourceName   string         `db:"source_name"`
	TemplateID   string         `db:"template_id"`
	Params       string         `db:"params"`
	OutputDir    string         `db:"output_dir"`
	Status       string         `db:"status"`
	Priority     int            `db:"priority"`
	CreatedAt    time.Time      `db:"created_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	RetryCount   int            `db:"retry_count"`
	MaxRetries   int            `db:"max_retries"`
	RetryOf      sql.NullString `db:"retry_of"`
	Progress     int            `db:"progress"`
	Result       sql.NullString `db:"result"`
	ErrorMessage sql.NullString `db:"error_message"`
	Cost         float64        `db:"cost"`
}

// JobStore implements store.JobStore on a SQL database via sqlx.
type JobStore struct {
	db *sqlx.DB
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore on an open database.
func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

func toRow(job *domain.Job) (*jobRow, error) {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	row := &jobRow{
		ID:         job.ID.String(),
		ImageID:    job.ImageID,
		ImageHash:  job.ImageHash,
		SourceName: job.SourceName,
		TemplateID: job.TemplateID,
		Params:     string(params),
		OutputDir:  job.OutputDir,
		Status:     string(job.Status),
		Priority:   job.Priority,
		CreatedAt:  job.CreatedAt.UTC(),
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		Progress:   job.Progress,
		Cost:       job.Cost,
	}
	if job.StartedAt != nil {
		row.StartedAt = sql.NullTime{Time: job.StartedAt.UTC(), Valid: true}
	}
	if job.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: job.CompletedAt.UTC(), Valid: true}
	}
	if job.RetryOf != nil {
		row.RetryOf = sql.NullString{String: job.RetryOf.String(), Valid: true}
	}
	if job.Result != nil {
		result, err := json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		row.Result = sql.NullString{String: string(result), Valid: true}
	}
	if job.Error != nil {
		row.ErrorMessage = sql.NullString{String: *job.Error, Valid: true}
	}
	return row, nil
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", r.ID, err)
	}
	job := &domain.Job{
		ID:         id,
		ImageID:    r.ImageID,
		ImageHash:  r.ImageHash,
		SourceName: r.SourceName,
		TemplateID: r.TemplateID,
		OutputDir:  r.OutputDir,
		Status:     domain.JobStatus(r.Status),
		Priority:   r.Priority,
		CreatedAt:  r.CreatedAt.UTC(),
		RetryCount: r.RetryCount,
		MaxRetries: r.MaxRetries,
		Progress:   r.Progress,
		Cost:       r.Cost,
	}
	if err := json.Unmarshal([]byte(r.Params), &job.Params); err != nil {
		return nil, fmt.Errorf("invalid params for job %s: %w", r.ID, err)
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time.UTC()
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		job.CompletedAt = &t
	}
	if r.RetryOf.Valid {
		prev, err := uuid.Parse(r.RetryOf.String)
		if err == nil {
			job.RetryOf = &prev
		}
	}
	if r.Result.Valid {
		var result domain.JobResult
		if err := json.Unmarshal([]byte(r.Result.String), &result); err != nil {
			return nil, fmt.Errorf("invalid result for job %s: %w", r.ID, err)
		}
		job.Result = &result
	}
	if r.ErrorMessage.Valid {
		msg := r.ErrorMessage.String
		job.Error = &msg
	}
	return job, nil
}

// SaveJob implements store.JobStore.
func (s *JobStore) SaveJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	row, err := toRow(job)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (
		:id, :image_id, :image_hash, :source_name, :template_id, :params, :output_dir,
		:status, :priority, :created_at, :started_at, :completed_at, :retry_count, :max_retries,
		:retry_of, :progress, :result, :error_message, :cost)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		log.Error("failed to save job", "job_id", job.ID, "error", err)
		return fmt.Errorf("failed to save job: %w", MapError(err))
	}
	return nil
}

// UpdateJob implements store.JobStore.
func (s *JobStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	row, err := toRow(job)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `UPDATE jobs SET
		image_hash = :image_hash,
		params = :params,
		output_dir = :output_dir,
		status = :status,
		priority = :priority,
		started_at = :started_at,
		completed_at = :completed_at,
		retry_count = :retry_count,
		max_retries = :max_retries,
		progress = :progress,
		result = :result,
		error_message = :error_message,
		cost = :cost
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		log.Error("failed to update job", "job_id", job.ID, "status", job.Status, "error", err)
		return store.NewStoreError("job", "update", "failed to update job",
			fmt.Errorf("%w: %w", store.ErrUpdateFailed, MapError(err)))
	}
	return CheckRowsAffected(result)
}

// GetJob implements store.JobStore.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", MapError(err))
	}
	return row.toDomain()
}

// ListJobs implements store.JobStore.
func (s *JobStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	var args []interface{}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += ` AND status IN (?)`
		args = append(args, statuses)
	}
	if filter.TemplateID != "" {
		query += ` AND template_id = ?`
		args = append(args, filter.TemplateID)
	}
	query += jobOrder

	if len(filter.Statuses) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to expand job filter: %w", err)
		}
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", MapError(err))
	}
	return rowsToJobs(rows)
}

func rowsToJobs(rows []jobRow) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DeleteJob implements store.JobStore.
func (s *JobStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM jobs WHERE id = ?`), id.String())
	if err != nil {
		return store.NewStoreError("job", "delete", "failed to delete job",
			fmt.Errorf("%w: %w", store.ErrDeleteFailed, MapError(err)))
	}
	return CheckRowsAffected(result)
}

// DeleteJobsByStatus implements store.JobStore.
func (s *JobStore) DeleteJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]uuid.UUID, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	var removed []uuid.UUID
	err := RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		selectQuery, args, err := sqlx.In(`SELECT id FROM jobs WHERE status IN (?)`, names)
		if err != nil {
			return err
		}
		var ids []string
		if err := tx.SelectContext(ctx, &ids, tx.Rebind(selectQuery), args...); err != nil {
			return MapError(err)
		}
		if len(ids) == 0 {
			return nil
		}

		deleteQuery, args, err := sqlx.In(`DELETE FROM jobs WHERE id IN (?)`, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(deleteQuery), args...); err != nil {
			return MapError(err)
		}
		for _, raw := range ids {
			if id, err := uuid.Parse(raw); err == nil {
				removed = append(removed, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.NewStoreError("job", "delete", "failed to delete jobs by status",
			fmt.Errorf("%w: %w", store.ErrDeleteFailed, err))
	}
	return removed, nil
}

// CountByStatus implements store.JobStore.
func (s *JobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", MapError(err))
	}
	counts := make(map[domain.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[domain.JobStatus(r.Status)] = r.Count
	}
	return counts, nil
}
