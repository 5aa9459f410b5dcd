package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// ResultRepository defines the interface for test result data access.
// Results are append-only; the apply engine inserts them in chunks.
type ResultRepository interface {
	CreateBatch(ctx context.Context, results []*models.TestResult) error
	CountByRun(ctx context.Context, runID uuid.UUID) (int64, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.TestResult, error)
}

type resultRepository struct{}

// NewResultRepository creates a new test result repository.
func NewResultRepository() ResultRepository {
	return &resultRepository{}
}

var _ ResultRepository = (*resultRepository)(nil)

const resultInsert = `
	INSERT INTO engine_results (
		id, project_id, run_id, case_id, status_id, executed_by,
		comment, elapsed_seconds, payload, executed_at, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (r *resultRepository) CreateBatch(ctx context.Context, results []*models.TestResult) error {
	if len(results) == 0 {
		return nil
	}
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
		if res.CreatedAt.IsZero() {
			res.CreatedAt = time.Now()
		}
		batch.Queue(resultInsert,
			res.ID, res.ProjectID, res.RunID, res.CaseID, res.StatusID, res.ExecutedBy,
			nullString(res.Comment), res.Elapsed, jsonbValue(res.Payload),
			res.ExecutedAt, res.CreatedAt)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert result batch: %w", err)
		}
	}
	return nil
}

func (r *resultRepository) CountByRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = q.QueryRow(ctx,
		`SELECT COUNT(*) FROM engine_results WHERE run_id = $1`, runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

func (r *resultRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.TestResult, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, project_id, run_id, case_id, status_id, executed_by,
		       COALESCE(comment, ''), elapsed_seconds, payload, executed_at, created_at
		FROM engine_results WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var out []*models.TestResult
	for rows.Next() {
		res := &models.TestResult{}
		err := rows.Scan(&res.ID, &res.ProjectID, &res.RunID, &res.CaseID, &res.StatusID,
			&res.ExecutedBy, &res.Comment, &res.Elapsed, &res.Payload, &res.ExecutedAt,
			&res.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
