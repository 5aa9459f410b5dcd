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

// GroupRepository defines the interface for user group data access.
type GroupRepository interface {
	Create(ctx context.Context, group *models.Group) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Group, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.Group, error)
}

type groupRepository struct{}

// NewGroupRepository creates a new group repository.
func NewGroupRepository() GroupRepository {
	return &groupRepository{}
}

var _ GroupRepository = (*groupRepository)(nil)

func (r *groupRepository) Create(ctx context.Context, group *models.Group) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	group.CreatedAt = time.Now()

	_, err = q.Exec(ctx, `
		INSERT INTO engine_groups (id, project_id, name, created_at)
		VALUES ($1, $2, $3, $4)`,
		group.ID, group.ProjectID, group.Name, group.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

func scanGroup(row pgx.Row) (*models.Group, error) {
	g := &models.Group{}
	err := row.Scan(&g.ID, &g.ProjectID, &g.Name, &g.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}
	return g, nil
}

func (r *groupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanGroup(q.QueryRow(ctx,
		`SELECT id, project_id, name, created_at FROM engine_groups WHERE id = $1`, id))
}

func (r *groupRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Group, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanGroup(q.QueryRow(ctx,
		`SELECT id, project_id, name, created_at FROM engine_groups WHERE project_id = $1 AND name = $2`,
		projectID, name))
}

func (r *groupRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.Group, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT id, project_id, name, created_at FROM engine_groups WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var out []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
