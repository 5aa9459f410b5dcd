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

// CaseFieldRepository defines the interface for custom field data access.
// A field's natural key within a project is (system_name, scope).
type CaseFieldRepository interface {
	Create(ctx context.Context, field *models.CaseField) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CaseField, error)
	FindByKey(ctx context.Context, projectID uuid.UUID, systemName string, scope models.FieldScope) (*models.CaseField, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.CaseField, error)

	// UpdateTemplates replaces the set of templates the field is attached to.
	UpdateTemplates(ctx context.Context, id uuid.UUID, templateIDs []uuid.UUID) error
}

type caseFieldRepository struct{}

// NewCaseFieldRepository creates a new case field repository.
func NewCaseFieldRepository() CaseFieldRepository {
	return &caseFieldRepository{}
}

var _ CaseFieldRepository = (*caseFieldRepository)(nil)

func (r *caseFieldRepository) Create(ctx context.Context, field *models.CaseField) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	field.CreatedAt = time.Now()

	options, err := json.Marshal(field.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal field options: %w", err)
	}
	templates, err := json.Marshal(field.TemplateIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal field templates: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO engine_case_fields (
			id, project_id, name, system_name, type, scope, required,
			options, template_ids, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		field.ID, field.ProjectID, field.Name, field.SystemName, field.Type,
		field.Scope, field.Required, options, templates, field.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create case field: %w", err)
	}
	return nil
}

const caseFieldColumns = `
	id, project_id, name, system_name, type, scope, required,
	COALESCE(options, '[]'::jsonb), COALESCE(template_ids, '[]'::jsonb), created_at`

func scanCaseField(row pgx.Row) (*models.CaseField, error) {
	f := &models.CaseField{}
	var options, templates []byte
	err := row.Scan(&f.ID, &f.ProjectID, &f.Name, &f.SystemName, &f.Type, &f.Scope,
		&f.Required, &options, &templates, &f.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan case field: %w", err)
	}
	if err := json.Unmarshal(options, &f.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field options: %w", err)
	}
	if err := json.Unmarshal(templates, &f.TemplateIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field templates: %w", err)
	}
	return f, nil
}

func (r *caseFieldRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CaseField, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanCaseField(q.QueryRow(ctx,
		`SELECT `+caseFieldColumns+` FROM engine_case_fields WHERE id = $1`, id))
}

func (r *caseFieldRepository) FindByKey(ctx context.Context, projectID uuid.UUID, systemName string, scope models.FieldScope) (*models.CaseField, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanCaseField(q.QueryRow(ctx,
		`SELECT `+caseFieldColumns+` FROM engine_case_fields
		 WHERE project_id = $1 AND system_name = $2 AND scope = $3`,
		projectID, systemName, scope))
}

func (r *caseFieldRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.CaseField, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+caseFieldColumns+` FROM engine_case_fields WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list case fields: %w", err)
	}
	defer rows.Close()

	var out []*models.CaseField
	for rows.Next() {
		f, err := scanCaseField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *caseFieldRepository) UpdateTemplates(ctx context.Context, id uuid.UUID, templateIDs []uuid.UUID) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(templateIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal field templates: %w", err)
	}

	tag, err := q.Exec(ctx,
		`UPDATE engine_case_fields SET template_ids = $2 WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("failed to update field templates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
