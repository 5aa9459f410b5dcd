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

// UserRepository defines the interface for user data access. Email is the
// natural key; FindByName is the fallback for sources that carry no email.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, projectID uuid.UUID, email string) (*models.User, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.User, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.User, error)
}

type userRepository struct{}

// NewUserRepository creates a new user repository.
func NewUserRepository() UserRepository {
	return &userRepository{}
}

var _ UserRepository = (*userRepository)(nil)

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()

	_, err = q.Exec(ctx, `
		INSERT INTO engine_users (id, project_id, email, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.ProjectID, nullString(user.Email), user.Name, user.IsActive, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, project_id, COALESCE(email, ''), name, is_active, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.ProjectID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM engine_users WHERE id = $1`, id))
}

func (r *userRepository) FindByEmail(ctx context.Context, projectID uuid.UUID, email string) (*models.User, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM engine_users WHERE project_id = $1 AND LOWER(email) = LOWER($2)`,
		projectID, email))
}

func (r *userRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.User, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM engine_users WHERE project_id = $1 AND name = $2`,
		projectID, name))
}

func (r *userRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.User, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+userColumns+` FROM engine_users WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
