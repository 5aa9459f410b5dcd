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

// WorkflowRepository defines the interface for workflow data access.
type WorkflowRepository interface {
	Create(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Workflow, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.Workflow, error)

	// ClearDefault drops the default flag from every workflow in the
	// project. Callers set the new default afterwards so at most one
	// workflow carries the flag.
	ClearDefault(ctx context.Context, projectID uuid.UUID) error
}

type workflowRepository struct{}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository() WorkflowRepository {
	return &workflowRepository{}
}

var _ WorkflowRepository = (*workflowRepository)(nil)

func (r *workflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	workflow.CreatedAt = time.Now()

	_, err = q.Exec(ctx, `
		INSERT INTO engine_workflows (id, project_id, name, phase, color, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		workflow.ID, workflow.ProjectID, workflow.Name, workflow.Phase,
		nullString(workflow.Color), workflow.IsDefault, workflow.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	w := &models.Workflow{}
	err := row.Scan(&w.ID, &w.ProjectID, &w.Name, &w.Phase, &w.Color, &w.IsDefault, &w.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}
	return w, nil
}

const workflowColumns = `id, project_id, name, phase, COALESCE(color, ''), is_default, created_at`

func (r *workflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanWorkflow(q.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM engine_workflows WHERE id = $1`, id))
}

func (r *workflowRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Workflow, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanWorkflow(q.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM engine_workflows WHERE project_id = $1 AND name = $2`,
		projectID, name))
}

func (r *workflowRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.Workflow, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+workflowColumns+` FROM engine_workflows WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *workflowRepository) ClearDefault(ctx context.Context, projectID uuid.UUID) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx,
		`UPDATE engine_workflows SET is_default = FALSE WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to clear default workflow: %w", err)
	}
	return nil
}
