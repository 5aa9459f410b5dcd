package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caseflow-io/caseflow-engine/pkg/jsonutil"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// BatchResult reports what a processor did with one batch of staged rows.
// Done rows are marked processed cleanly; Failed rows are marked processed
// with the given cause recorded, so the failed-rows read path surfaces them
// and ResetFailed can flip them back for retry. Rows in neither set are
// marked failed with a generic reason.
type BatchResult struct {
	Done   []int64
	Failed map[int64]string
}

// BatchProcessor consumes one batch of staged rows and reports the per-row
// outcome.
type BatchProcessor func(ctx context.Context, rows []*models.StagedRow) (BatchResult, error)

// StagingRepository is the durable staging store for extracted rows.
type StagingRepository interface {
	// StageBatch appends rows of one dataset in a single durable write.
	StageBatch(ctx context.Context, jobID uuid.UUID, dataset string, rows []models.StageRow) error

	// ProcessBatches drives cursor-paginated consumption of every
	// unprocessed row of a dataset, in row_index order, invoking fn once per
	// batch. A processor error marks the whole current batch failed and the
	// cursor moves on; forward progress is guaranteed.
	ProcessBatches(ctx context.Context, jobID uuid.UUID, dataset string, batchSize int, fn BatchProcessor) error

	// CountRows returns total and unprocessed row counts for a job.
	CountRows(ctx context.Context, jobID uuid.UUID) (total int, unprocessed int, err error)

	// CountDatasetRows returns the number of staged rows for one dataset.
	CountDatasetRows(ctx context.Context, jobID uuid.UUID, dataset string) (int, error)

	// FetchAll returns every staged row of a dataset in row_index order.
	// Intended for low-volume preserved datasets served back to the operator.
	FetchAll(ctx context.Context, jobID uuid.UUID, dataset string) ([]*models.StagedRow, error)

	// CountFailed returns how many rows were marked failed.
	CountFailed(ctx context.Context, jobID uuid.UUID) (int, error)

	// FailedRows returns up to limit rows that were marked failed, with
	// their error detail.
	FailedRows(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.StagedRow, error)

	// ResetFailed flips failed rows back to unprocessed for retry and
	// returns how many were reset.
	ResetFailed(ctx context.Context, jobID uuid.UUID) (int64, error)

	// CleanupJob removes all staging rows and entity mappings for a job.
	CleanupJob(ctx context.Context, jobID uuid.UUID) error

	// CleanupStaging removes staging rows only, preserving entity mappings
	// for incremental re-imports.
	CleanupStaging(ctx context.Context, jobID uuid.UUID) error
}

type stagingRepository struct{}

// NewStagingRepository creates a new StagingRepository.
func NewStagingRepository() StagingRepository {
	return &stagingRepository{}
}

var _ StagingRepository = (*stagingRepository)(nil)

func (r *stagingRepository) StageBatch(ctx context.Context, jobID uuid.UUID, dataset string, rows []models.StageRow) error {
	if len(rows) == 0 {
		return nil
	}

	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_import_rows (
			job_id, dataset, row_index, data,
			field_name, field_value, text1, text2, text3, text4
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id, dataset, row_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, row := range rows {
		d := denormalize(dataset, row.Data)
		batch.Queue(query,
			jobID, dataset, row.Index, row.Data,
			nullString(d.fieldName), nullString(d.fieldValue),
			nullString(d.text1), nullString(d.text2), nullString(d.text3), nullString(d.text4),
		)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to stage rows for dataset %s: %w", dataset, err)
		}
	}
	return nil
}

func (r *stagingRepository) ProcessBatches(ctx context.Context, jobID uuid.UUID, dataset string, batchSize int, fn BatchProcessor) error {
	if batchSize <= 0 {
		batchSize = 250
	}

	var cursor int64
	for {
		// Cooperative point between batches.
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := r.fetchUnprocessed(ctx, jobID, dataset, cursor, batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		res, fnErr := fn(ctx, rows)
		if fnErr != nil {
			// The whole batch is marked failed; the cursor still advances so
			// a broken batch can never stall consumption.
			if err := r.markBatch(ctx, rows, BatchResult{}, fnErr.Error()); err != nil {
				return err
			}
		} else {
			if err := r.markBatch(ctx, rows, res, "row not consumed by processor"); err != nil {
				return err
			}
		}

		cursor = rows[len(rows)-1].ID
	}
}

func (r *stagingRepository) fetchUnprocessed(ctx context.Context, jobID uuid.UUID, dataset string, cursor int64, limit int) ([]*models.StagedRow, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, job_id, dataset, row_index, data,
		       COALESCE(field_name, ''), COALESCE(field_value, ''),
		       COALESCE(text1, ''), COALESCE(text2, ''), COALESCE(text3, ''), COALESCE(text4, ''),
		       processed, COALESCE(error, ''), created_at
		FROM engine_import_rows
		WHERE job_id = $1 AND dataset = $2 AND processed = false AND id > $3
		ORDER BY row_index ASC
		LIMIT $4`

	pgRows, err := q.Query(ctx, query, jobID, dataset, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staged rows: %w", err)
	}
	defer pgRows.Close()

	return scanStagedRows(pgRows)
}

// markBatch marks Done ids processed, Failed ids processed with their
// recorded cause, and every other row of the batch failed with the fallback
// reason.
func (r *stagingRepository) markBatch(ctx context.Context, batch []*models.StagedRow, res BatchResult, fallback string) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	done := make(map[int64]bool, len(res.Done))
	for _, id := range res.Done {
		done[id] = true
	}

	var okIDs []int64
	failed := make(map[string][]int64)
	for _, row := range batch {
		switch {
		case done[row.ID]:
			okIDs = append(okIDs, row.ID)
		default:
			cause, ok := res.Failed[row.ID]
			if !ok {
				cause = fallback
			}
			failed[cause] = append(failed[cause], row.ID)
		}
	}

	if len(okIDs) > 0 {
		if _, err := q.Exec(ctx,
			`UPDATE engine_import_rows SET processed = true, error = NULL WHERE id = ANY($1)`,
			okIDs); err != nil {
			return fmt.Errorf("failed to mark rows processed: %w", err)
		}
	}
	for cause, ids := range failed {
		if _, err := q.Exec(ctx,
			`UPDATE engine_import_rows SET processed = true, error = $2 WHERE id = ANY($1)`,
			ids, cause); err != nil {
			return fmt.Errorf("failed to mark rows failed: %w", err)
		}
	}
	return nil
}

func (r *stagingRepository) CountRows(ctx context.Context, jobID uuid.UUID) (int, int, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return 0, 0, err
	}

	var total, unprocessed int
	err = q.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE processed = false)
		FROM engine_import_rows WHERE job_id = $1`,
		jobID).Scan(&total, &unprocessed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count staged rows: %w", err)
	}
	return total, unprocessed, nil
}

func (r *stagingRepository) CountDatasetRows(ctx context.Context, jobID uuid.UUID, dataset string) (int, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = q.QueryRow(ctx,
		`SELECT COUNT(*) FROM engine_import_rows WHERE job_id = $1 AND dataset = $2`,
		jobID, dataset).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dataset rows: %w", err)
	}
	return count, nil
}

func (r *stagingRepository) FetchAll(ctx context.Context, jobID uuid.UUID, dataset string) ([]*models.StagedRow, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, job_id, dataset, row_index, data,
		       COALESCE(field_name, ''), COALESCE(field_value, ''),
		       COALESCE(text1, ''), COALESCE(text2, ''), COALESCE(text3, ''), COALESCE(text4, ''),
		       processed, COALESCE(error, ''), created_at
		FROM engine_import_rows
		WHERE job_id = $1 AND dataset = $2
		ORDER BY row_index ASC`

	pgRows, err := q.Query(ctx, query, jobID, dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staged rows: %w", err)
	}
	defer pgRows.Close()

	return scanStagedRows(pgRows)
}

func (r *stagingRepository) CountFailed(ctx context.Context, jobID uuid.UUID) (int, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = q.QueryRow(ctx,
		`SELECT COUNT(*) FROM engine_import_rows WHERE job_id = $1 AND processed = true AND error IS NOT NULL`,
		jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed rows: %w", err)
	}
	return count, nil
}

func (r *stagingRepository) FailedRows(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.StagedRow, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, job_id, dataset, row_index, data,
		       COALESCE(field_name, ''), COALESCE(field_value, ''),
		       COALESCE(text1, ''), COALESCE(text2, ''), COALESCE(text3, ''), COALESCE(text4, ''),
		       processed, COALESCE(error, ''), created_at
		FROM engine_import_rows
		WHERE job_id = $1 AND processed = true AND error IS NOT NULL
		ORDER BY dataset, row_index
		LIMIT $2`

	pgRows, err := q.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch failed rows: %w", err)
	}
	defer pgRows.Close()

	return scanStagedRows(pgRows)
}

func (r *stagingRepository) ResetFailed(ctx context.Context, jobID uuid.UUID) (int64, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		UPDATE engine_import_rows SET processed = false, error = NULL
		WHERE job_id = $1 AND processed = true AND error IS NOT NULL`,
		jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *stagingRepository) CleanupJob(ctx context.Context, jobID uuid.UUID) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `DELETE FROM engine_import_rows WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete staging rows: %w", err)
	}
	if _, err := q.Exec(ctx, `DELETE FROM engine_import_mappings WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete entity mappings: %w", err)
	}
	return nil
}

func (r *stagingRepository) CleanupStaging(ctx context.Context, jobID uuid.UUID) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `DELETE FROM engine_import_rows WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete staging rows: %w", err)
	}
	return nil
}

func scanStagedRows(pgRows pgx.Rows) ([]*models.StagedRow, error) {
	var out []*models.StagedRow
	for pgRows.Next() {
		row := &models.StagedRow{}
		if err := pgRows.Scan(
			&row.ID, &row.JobID, &row.Dataset, &row.RowIndex, &row.Data,
			&row.FieldName, &row.FieldValue,
			&row.Text1, &row.Text2, &row.Text3, &row.Text4,
			&row.Processed, &row.Error, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan staged row: %w", err)
		}
		out = append(out, row)
	}
	if err := pgRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read staged rows: %w", err)
	}
	return out, nil
}

// denormalized holds scalar columns pulled out of dataset-specific payload
// shapes so the apply phase can scan them without re-parsing large blobs.
type denormalized struct {
	fieldName  string
	fieldValue string
	text1      string
	text2      string
	text3      string
	text4      string
}

func denormalize(dataset string, data json.RawMessage) denormalized {
	var d denormalized

	switch dataset {
	case models.DatasetConfigurations:
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return d
		}
		d.fieldName, _ = jsonutil.StringKey(obj, "name", "field_name", "label")
		d.fieldValue, _ = jsonutil.StringKey(obj, "value", "field_value", "option")

	case models.DatasetCases:
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return d
		}
		d.text1, _ = jsonutil.StringKey(obj, "steps", "custom_steps")
		d.text2, _ = jsonutil.StringKey(obj, "expected_result", "custom_expected")
		d.text3, _ = jsonutil.StringKey(obj, "preconditions", "custom_preconds")
		d.text4, _ = jsonutil.StringKey(obj, "description")
	}

	return d
}
