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

// TagRepository defines the interface for tag data access.
type TagRepository interface {
	Create(ctx context.Context, tag *models.Tag) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tag, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Tag, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.Tag, error)
}

type tagRepository struct{}

// NewTagRepository creates a new tag repository.
func NewTagRepository() TagRepository {
	return &tagRepository{}
}

var _ TagRepository = (*tagRepository)(nil)

func (r *tagRepository) Create(ctx context.Context, tag *models.Tag) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if tag.ID == uuid.Nil {
		tag.ID = uuid.New()
	}
	tag.CreatedAt = time.Now()

	_, err = q.Exec(ctx, `
		INSERT INTO engine_tags (id, project_id, name, created_at)
		VALUES ($1, $2, $3, $4)`,
		tag.ID, tag.ProjectID, tag.Name, tag.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", err)
	}
	return nil
}

func scanTag(row pgx.Row) (*models.Tag, error) {
	t := &models.Tag{}
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan tag: %w", err)
	}
	return t, nil
}

func (r *tagRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tag, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanTag(q.QueryRow(ctx,
		`SELECT id, project_id, name, created_at FROM engine_tags WHERE id = $1`, id))
}

func (r *tagRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Tag, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanTag(q.QueryRow(ctx,
		`SELECT id, project_id, name, created_at FROM engine_tags WHERE project_id = $1 AND name = $2`,
		projectID, name))
}

func (r *tagRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.Tag, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT id, project_id, name, created_at FROM engine_tags WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var out []*models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
