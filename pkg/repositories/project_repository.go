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

// ProjectRepository defines the interface for project data access.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type projectRepository struct{}

// NewProjectRepository creates a new project repository.
func NewProjectRepository() ProjectRepository {
	return &projectRepository{}
}

var _ ProjectRepository = (*projectRepository)(nil)

// Create inserts a new project or updates its name if it already exists.
// Uses ON CONFLICT for safe retry behavior during provisioning.
func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err = q.Exec(ctx, `
		INSERT INTO engine_projects (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`,
		project.ID, project.Name, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *projectRepository) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	project := &models.Project{}
	err = q.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM engine_projects WHERE id = $1`, id,
	).Scan(&project.ID, &project.Name, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

func (r *projectRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM engine_projects WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}
	return exists, nil
}
