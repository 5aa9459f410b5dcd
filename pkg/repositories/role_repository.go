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

// RoleRepository defines the interface for role data access.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Role, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.Role, error)
}

type roleRepository struct{}

// NewRoleRepository creates a new role repository.
func NewRoleRepository() RoleRepository {
	return &roleRepository{}
}

var _ RoleRepository = (*roleRepository)(nil)

func (r *roleRepository) Create(ctx context.Context, role *models.Role) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	role.CreatedAt = time.Now()

	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO engine_roles (id, project_id, name, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		role.ID, role.ProjectID, role.Name, perms, role.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

func scanRole(row pgx.Row) (*models.Role, error) {
	role := &models.Role{}
	var perms []byte
	err := row.Scan(&role.ID, &role.ProjectID, &role.Name, &perms, &role.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	if err := json.Unmarshal(perms, &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return role, nil
}

const roleColumns = `id, project_id, name, COALESCE(permissions, '[]'::jsonb), created_at`

func (r *roleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanRole(q.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM engine_roles WHERE id = $1`, id))
}

func (r *roleRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Role, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanRole(q.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM engine_roles WHERE project_id = $1 AND name = $2`,
		projectID, name))
}

func (r *roleRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.Role, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+roleColumns+` FROM engine_roles WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var out []*models.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}
