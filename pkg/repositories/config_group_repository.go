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

// ConfigGroupRepository defines the interface for configuration group data
// access. Options are stored denormalized as jsonb alongside the group.
type ConfigGroupRepository interface {
	Create(ctx context.Context, group *models.ConfigGroup) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ConfigGroup, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.ConfigGroup, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.ConfigGroup, error)

	// UpdateOptions replaces the group's option list.
	UpdateOptions(ctx context.Context, id uuid.UUID, options []models.DropdownOption) error
}

type configGroupRepository struct{}

// NewConfigGroupRepository creates a new configuration group repository.
func NewConfigGroupRepository() ConfigGroupRepository {
	return &configGroupRepository{}
}

var _ ConfigGroupRepository = (*configGroupRepository)(nil)

func (r *configGroupRepository) Create(ctx context.Context, group *models.ConfigGroup) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	group.CreatedAt = time.Now()

	options, err := json.Marshal(group.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal config options: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO engine_config_groups (id, project_id, name, options, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		group.ID, group.ProjectID, group.Name, options, group.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create config group: %w", err)
	}
	return nil
}

const configGroupColumns = `id, project_id, name, COALESCE(options, '[]'::jsonb), created_at`

func scanConfigGroup(row pgx.Row) (*models.ConfigGroup, error) {
	g := &models.ConfigGroup{}
	var options []byte
	err := row.Scan(&g.ID, &g.ProjectID, &g.Name, &options, &g.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan config group: %w", err)
	}
	if err := json.Unmarshal(options, &g.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config options: %w", err)
	}
	return g, nil
}

func (r *configGroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ConfigGroup, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanConfigGroup(q.QueryRow(ctx,
		`SELECT `+configGroupColumns+` FROM engine_config_groups WHERE id = $1`, id))
}

func (r *configGroupRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.ConfigGroup, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanConfigGroup(q.QueryRow(ctx,
		`SELECT `+configGroupColumns+` FROM engine_config_groups WHERE project_id = $1 AND name = $2`,
		projectID, name))
}

func (r *configGroupRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.ConfigGroup, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+configGroupColumns+` FROM engine_config_groups WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list config groups: %w", err)
	}
	defer rows.Close()

	var out []*models.ConfigGroup
	for rows.Next() {
		g, err := scanConfigGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *configGroupRepository) UpdateOptions(ctx context.Context, id uuid.UUID, options []models.DropdownOption) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal config options: %w", err)
	}

	tag, err := q.Exec(ctx,
		`UPDATE engine_config_groups SET options = $2 WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("failed to update config options: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
