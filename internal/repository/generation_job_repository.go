package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/sma-generation-core/internal/models"
)

// GenerationJobRepository persists workflow jobs and their step records.
type GenerationJobRepository struct {
	db *sqlx.DB
}

// NewGenerationJobRepository constructs the repository.
func NewGenerationJobRepository(db *sqlx.DB) *GenerationJobRepository {
	return &GenerationJobRepository{db: db}
}

const generationJobColumns = `id, idempotency_key, kind, payload, status, current_step, steps, fatal_reason, deliveries, created_at, updated_at, finished_at`

// CreateOrGet inserts the job unless its idempotency key already exists, in
// which case the stored job is returned and created is false.
func (r *GenerationJobRepository) CreateOrGet(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, bool, error) {
	if job.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("idempotency key is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if len(job.Payload) == 0 {
		job.Payload = types.JSONText(`{}`)
	}
	if job.Steps == nil {
		job.Steps = models.StepRecords{}
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `INSERT INTO generation_jobs (` + generationJobColumns + `)
VALUES (:id, :idempotency_key, :kind, :payload, :status, :current_step, :steps, :fatal_reason, :deliveries, :created_at, :updated_at, :finished_at)
ON CONFLICT (idempotency_key) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, job)
	if err != nil {
		return nil, false, fmt.Errorf("insert generation job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("generation job rows affected: %w", err)
	}
	if affected == 1 {
		return job, true, nil
	}

	existing, err := r.GetByIdempotencyKey(ctx, job.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID loads a job or returns sql.ErrNoRows.
func (r *GenerationJobRepository) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	query := `SELECT ` + generationJobColumns + ` FROM generation_jobs WHERE id = $1`
	var job models.GenerationJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByIdempotencyKey loads the job registered under key.
func (r *GenerationJobRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.GenerationJob, error) {
	query := `SELECT ` + generationJobColumns + ` FROM generation_jobs WHERE idempotency_key = $1`
	var job models.GenerationJob
	if err := r.db.GetContext(ctx, &job, query, key); err != nil {
		return nil, err
	}
	return &job, nil
}

// Save writes the mutable runner state of a job.
func (r *GenerationJobRepository) Save(ctx context.Context, job *models.GenerationJob) error {
	job.UpdatedAt = time.Now().UTC()
	const query = `UPDATE generation_jobs SET status = :status, current_step = :current_step, steps = :steps, fatal_reason = :fatal_reason, deliveries = :deliveries, updated_at = :updated_at, finished_at = :finished_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, job)
	if err != nil {
		return fmt.Errorf("save generation job: %w", err)
	}
	return expectAffected(result, "generation job")
}

// ListStale returns non-terminal jobs not touched since before.
func (r *GenerationJobRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]models.GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + generationJobColumns + ` FROM generation_jobs WHERE status IN ($1, $2) AND updated_at < $3 ORDER BY updated_at LIMIT $4`
	var jobs []models.GenerationJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.JobStatusPending, models.JobStatusRunning, before, limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("list stale generation jobs: %w", err)
	}
	return jobs, nil
}
