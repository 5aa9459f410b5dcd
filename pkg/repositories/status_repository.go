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

// StatusRepository defines the interface for result status data access.
type StatusRepository interface {
	Create(ctx context.Context, status *models.Status) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Status, error)
	FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Status, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.Status, error)
	ClearDefault(ctx context.Context, projectID uuid.UUID) error
}

type statusRepository struct{}

// NewStatusRepository creates a new status repository.
func NewStatusRepository() StatusRepository {
	return &statusRepository{}
}

var _ StatusRepository = (*statusRepository)(nil)

func (r *statusRepository) Create(ctx context.Context, status *models.Status) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if status.ID == uuid.Nil {
		status.ID = uuid.New()
	}
	status.CreatedAt = time.Now()

	_, err = q.Exec(ctx, `
		INSERT INTO engine_statuses (id, project_id, name, color, is_completed, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		status.ID, status.ProjectID, status.Name, nullString(status.Color),
		status.IsCompleted, status.IsDefault, status.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create status: %w", err)
	}
	return nil
}

const statusColumns = `id, project_id, name, COALESCE(color, ''), is_completed, is_default, created_at`

func scanStatus(row pgx.Row) (*models.Status, error) {
	s := &models.Status{}
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Color, &s.IsCompleted, &s.IsDefault, &s.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan status: %w", err)
	}
	return s, nil
}

func (r *statusRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Status, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanStatus(q.QueryRow(ctx,
		`SELECT `+statusColumns+` FROM engine_statuses WHERE id = $1`, id))
}

func (r *statusRepository) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Status, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanStatus(q.QueryRow(ctx,
		`SELECT `+statusColumns+` FROM engine_statuses WHERE project_id = $1 AND name = $2`,
		projectID, name))
}

func (r *statusRepository) List(ctx context.Context, projectID uuid.UUID) ([]*models.Status, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+statusColumns+` FROM engine_statuses WHERE project_id = $1 ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	defer rows.Close()

	var out []*models.Status
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *statusRepository) ClearDefault(ctx context.Context, projectID uuid.UUID) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx,
		`UPDATE engine_statuses SET is_default = FALSE WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to clear default status: %w", err)
	}
	return nil
}
