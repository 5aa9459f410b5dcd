package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// RunRepository defines the interface for test run data access.
type RunRepository interface {
	Create(ctx context.Context, run *models.TestRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.TestRun, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.TestRun, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.TestRun, error)
}

type runRepository struct{}

// NewRunRepository creates a new test run repository.
func NewRunRepository() RunRepository {
	return &runRepository{}
}

var _ RunRepository = (*runRepository)(nil)

func (r *runRepository) Create(ctx context.Context, run *models.TestRun) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.CreatedAt = time.Now()

	_, err = q.Exec(ctx, `
		INSERT INTO engine_runs (id, project_id, name, config_group_id, config_option, is_closed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.ProjectID, run.Name, run.ConfigGroupID,
		nullString(run.ConfigOption), run.IsClosed, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

const runColumns = `id, project_id, name, config_group_id, COALESCE(config_option, ''), is_closed, created_at`

func scanRun(row pgx.Row) (*models.TestRun, error) {
	run := &models.TestRun{}
	err := row.Scan(&run.ID, &run.ProjectID, &run.Name, &run.ConfigGroupID,
		&run.ConfigOption, &run.IsClosed, &run.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

func (r *runRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TestRun, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanRun(q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM engine_runs WHERE id = $1`, id))
}

func (r *runRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.TestRun, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanRun(q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM engine_runs WHERE project_id = $1 AND name = $2 LIMIT 1`,
		projectID, name))
}

func (r *runRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.TestRun, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+runColumns+` FROM engine_runs WHERE project_id = $1 ORDER BY created_at`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
