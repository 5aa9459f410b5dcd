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

// TemplateRepository defines the interface for case template data access.
type TemplateRepository interface {
	Create(ctx context.Context, template *models.Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Template, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Template, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.Template, error)
	ClearDefault(ctx context.Context, projectID uuid.UUID) error
}

type templateRepository struct{}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository() TemplateRepository {
	return &templateRepository{}
}

var _ TemplateRepository = (*templateRepository)(nil)

func (r *templateRepository) Create(ctx context.Context, template *models.Template) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}
	template.CreatedAt = time.Now()

	_, err = q.Exec(ctx, `
		INSERT INTO engine_templates (id, project_id, name, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		template.ID, template.ProjectID, template.Name, template.IsDefault, template.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func scanTemplate(row pgx.Row) (*models.Template, error) {
	t := &models.Template{}
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.IsDefault, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	return t, nil
}

func (r *templateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanTemplate(q.QueryRow(ctx,
		`SELECT id, project_id, name, is_default, created_at FROM engine_templates WHERE id = $1`, id))
}

func (r *templateRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Template, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanTemplate(q.QueryRow(ctx,
		`SELECT id, project_id, name, is_default, created_at FROM engine_templates
		 WHERE project_id = $1 AND name = $2`,
		projectID, name))
}

func (r *templateRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.Template, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT id, project_id, name, is_default, created_at FROM engine_templates
		 WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *templateRepository) ClearDefault(ctx context.Context, projectID uuid.UUID) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx,
		`UPDATE engine_templates SET is_default = FALSE WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to clear default template: %w", err)
	}
	return nil
}
