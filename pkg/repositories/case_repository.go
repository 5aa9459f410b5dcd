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

// CaseRepository defines the interface for test case data access.
type CaseRepository interface {
	Create(ctx context.Context, testCase *models.TestCase) error

	// CreateBatch inserts a chunk of cases in a single round trip.
	CreateBatch(ctx context.Context, cases []*models.TestCase) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.TestCase, error)

	// FindByKey looks up a case by its natural key within the project.
	FindByKey(ctx context.Context, projectID uuid.UUID, title, classification string) (*models.TestCase, error)

	Count(ctx context.Context, projectID uuid.UUID) (int64, error)
}

type caseRepository struct{}

// NewCaseRepository creates a new test case repository.
func NewCaseRepository() CaseRepository {
	return &caseRepository{}
}

var _ CaseRepository = (*caseRepository)(nil)

const caseInsert = `
	INSERT INTO engine_cases (
		id, project_id, template_id, title, classification,
		steps, expected_result, preconditions, description, payload, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (r *caseRepository) Create(ctx context.Context, testCase *models.TestCase) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	prepareCase(testCase)
	_, err = q.Exec(ctx, caseInsert, caseArgs(testCase)...)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (r *caseRepository) CreateBatch(ctx context.Context, cases []*models.TestCase) error {
	if len(cases) == 0 {
		return nil
	}
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, c := range cases {
		prepareCase(c)
		batch.Queue(caseInsert, caseArgs(c)...)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()
	for range cases {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert case batch: %w", err)
		}
	}
	return nil
}

func prepareCase(c *models.TestCase) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
}

func caseArgs(c *models.TestCase) []any {
	return []any{
		c.ID, c.ProjectID, c.TemplateID, c.Title, nullString(c.Classification),
		nullString(c.Steps), nullString(c.ExpectedResult), nullString(c.Preconditions),
		nullString(c.Description), jsonbValue(c.Payload), c.CreatedAt,
	}
}

const caseColumns = `
	id, project_id, template_id, title, COALESCE(classification, ''),
	COALESCE(steps, ''), COALESCE(expected_result, ''), COALESCE(preconditions, ''),
	COALESCE(description, ''), payload, created_at`

func scanCase(row pgx.Row) (*models.TestCase, error) {
	c := &models.TestCase{}
	err := row.Scan(&c.ID, &c.ProjectID, &c.TemplateID, &c.Title, &c.Classification,
		&c.Steps, &c.ExpectedResult, &c.Preconditions, &c.Description, &c.Payload, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan case: %w", err)
	}
	return c, nil
}

func (r *caseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TestCase, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanCase(q.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM engine_cases WHERE id = $1`, id))
}

func (r *caseRepository) FindByKey(ctx context.Context, projectID uuid.UUID, title, classification string) (*models.TestCase, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	return scanCase(q.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM engine_cases
		 WHERE project_id = $1 AND title = $2 AND COALESCE(classification, '') = $3
		 LIMIT 1`,
		projectID, title, classification))
}

func (r *caseRepository) Count(ctx context.Context, projectID uuid.UUID) (int64, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = q.QueryRow(ctx,
		`SELECT COUNT(*) FROM engine_cases WHERE project_id = $1`, projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return count, nil
}
