package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// JobRepository persists import jobs: state machine, progress projection,
// activity log, the analyzer's plan and the operator's mapping configuration.
type JobRepository interface {
	Create(ctx context.Context, job *models.ImportJob) error
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ImportJob, error)

	// UpdateState transitions the job's status and phase.
	UpdateState(ctx context.Context, jobID uuid.UUID, status models.JobStatus, phase models.JobPhase) error

	// SetError records a failure cause and moves the job to failed.
	SetError(ctx context.Context, jobID uuid.UUID, cause string) error

	// Complete moves the job to completed and stamps completion time.
	Complete(ctx context.Context, jobID uuid.UUID) error

	// UpdateProgress writes the mutable progress projection.
	UpdateProgress(ctx context.Context, job *models.ImportJob) error

	// AppendActivity appends one entry to the append-only activity log.
	AppendActivity(ctx context.Context, jobID uuid.UUID, entry models.ActivityEntry) error

	// SavePlan persists the analyzer output and dataset summaries.
	SavePlan(ctx context.Context, jobID uuid.UUID, plan *models.ImportPlan, datasets []*models.DatasetSummary) error
	GetPlan(ctx context.Context, jobID uuid.UUID) (*models.ImportPlan, []*models.DatasetSummary, error)

	// SaveConfig persists the normalized operator mapping configuration.
	SaveConfig(ctx context.Context, jobID uuid.UUID, cfg *models.MappingConfig) error
	GetConfig(ctx context.Context, jobID uuid.UUID) (*models.MappingConfig, error)
}

type jobRepository struct{}

// NewJobRepository creates a new JobRepository.
func NewJobRepository() JobRepository {
	return &jobRepository{}
}

var _ JobRepository = (*jobRepository)(nil)

func (r *jobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()

	_, err = q.Exec(ctx, `
		INSERT INTO engine_import_jobs (
			id, project_id, status, phase, source_name, source_path,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		job.ID, job.ProjectID, job.Status, job.Phase,
		nullString(job.SourceName), nullString(job.SourcePath), now)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}

	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

const jobColumns = `
	id, project_id, status, phase,
	COALESCE(source_name, ''), COALESCE(source_path, ''),
	COALESCE(progress, '{}'::jsonb), COALESCE(activity, '[]'::jsonb),
	processed_rows, error_rows, skipped_rows, total_rows,
	COALESCE(current_entity, ''), rows_per_second, eta_seconds,
	COALESCE(error, ''), created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*models.ImportJob, error) {
	job := &models.ImportJob{}
	var progressJSON, activityJSON []byte

	err := row.Scan(
		&job.ID, &job.ProjectID, &job.Status, &job.Phase,
		&job.SourceName, &job.SourcePath,
		&progressJSON, &activityJSON,
		&job.ProcessedRows, &job.ErrorRows, &job.SkippedRows, &job.TotalRows,
		&job.CurrentEntity, &job.RowsPerSecond, &job.EstimatedSecondsLeft,
		&job.Error, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan import job: %w", err)
	}

	if err := json.Unmarshal(progressJSON, &job.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job progress: %w", err)
	}
	if err := json.Unmarshal(activityJSON, &job.Activity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job activity: %w", err)
	}
	return job, nil
}

func (r *jobRepository) GetByID(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	return scanJob(q.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM engine_import_jobs WHERE id = $1`, jobID))
}

func (r *jobRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ImportJob, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+jobColumns+` FROM engine_import_jobs WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import jobs: %w", err)
	}
	return out, nil
}

func (r *jobRepository) UpdateState(ctx context.Context, jobID uuid.UUID, status models.JobStatus, phase models.JobPhase) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE engine_import_jobs SET status = $2, phase = $3, updated_at = $4
		WHERE id = $1`,
		jobID, status, phase, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *jobRepository) SetError(ctx context.Context, jobID uuid.UUID, cause string) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		UPDATE engine_import_jobs
		SET status = $2, error = $3, updated_at = $4
		WHERE id = $1`,
		jobID, models.JobStatusFailed, cause, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record job error: %w", err)
	}
	return nil
}

func (r *jobRepository) Complete(ctx context.Context, jobID uuid.UUID) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = q.Exec(ctx, `
		UPDATE engine_import_jobs
		SET status = $2, completed_at = $3, updated_at = $3
		WHERE id = $1`,
		jobID, models.JobStatusCompleted, now)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (r *jobRepository) UpdateProgress(ctx context.Context, job *models.ImportJob) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal job progress: %w", err)
	}

	_, err = q.Exec(ctx, `
		UPDATE engine_import_jobs
		SET progress = $2, processed_rows = $3, error_rows = $4, skipped_rows = $5,
		    total_rows = $6, current_entity = $7, rows_per_second = $8,
		    eta_seconds = $9, updated_at = $10
		WHERE id = $1`,
		job.ID, progressJSON, job.ProcessedRows, job.ErrorRows, job.SkippedRows,
		job.TotalRows, nullString(job.CurrentEntity), job.RowsPerSecond,
		job.EstimatedSecondsLeft, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (r *jobRepository) AppendActivity(ctx context.Context, jobID uuid.UUID, entry models.ActivityEntry) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity entry: %w", err)
	}

	_, err = q.Exec(ctx, `
		UPDATE engine_import_jobs
		SET activity = COALESCE(activity, '[]'::jsonb) || $2::jsonb, updated_at = $3
		WHERE id = $1`,
		jobID, entryJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append job activity: %w", err)
	}
	return nil
}

func (r *jobRepository) SavePlan(ctx context.Context, jobID uuid.UUID, plan *models.ImportPlan, datasets []*models.DatasetSummary) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal import plan: %w", err)
	}
	datasetsJSON, err := json.Marshal(datasets)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset summaries: %w", err)
	}

	_, err = q.Exec(ctx, `
		UPDATE engine_import_jobs SET plan = $2, datasets = $3, updated_at = $4
		WHERE id = $1`,
		jobID, planJSON, datasetsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save import plan: %w", err)
	}
	return nil
}

func (r *jobRepository) GetPlan(ctx context.Context, jobID uuid.UUID) (*models.ImportPlan, []*models.DatasetSummary, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, nil, err
	}

	var planJSON, datasetsJSON []byte
	err = q.QueryRow(ctx,
		`SELECT plan, datasets FROM engine_import_jobs WHERE id = $1`, jobID,
	).Scan(&planJSON, &datasetsJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to load import plan: %w", err)
	}

	if planJSON == nil {
		return nil, nil, apperrors.ErrNotFound
	}

	plan := &models.ImportPlan{}
	if err := json.Unmarshal(planJSON, plan); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal import plan: %w", err)
	}
	var datasets []*models.DatasetSummary
	if datasetsJSON != nil {
		if err := json.Unmarshal(datasetsJSON, &datasets); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal dataset summaries: %w", err)
		}
	}
	return plan, datasets, nil
}

func (r *jobRepository) SaveConfig(ctx context.Context, jobID uuid.UUID, cfg *models.MappingConfig) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping config: %w", err)
	}

	tag, err := q.Exec(ctx, `
		UPDATE engine_import_jobs SET config = $2, updated_at = $3
		WHERE id = $1`,
		jobID, cfgJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save mapping config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *jobRepository) GetConfig(ctx context.Context, jobID uuid.UUID) (*models.MappingConfig, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	var cfgJSON []byte
	err = q.QueryRow(ctx,
		`SELECT config FROM engine_import_jobs WHERE id = $1`, jobID,
	).Scan(&cfgJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load mapping config: %w", err)
	}
	if cfgJSON == nil {
		return nil, apperrors.ErrNotFound
	}

	cfg := &models.MappingConfig{}
	if err := json.Unmarshal(cfgJSON, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping config: %w", err)
	}
	return cfg, nil
}
