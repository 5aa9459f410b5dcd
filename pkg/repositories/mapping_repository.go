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

// MappingRepository persists source-id to target-id correspondences. Records
// survive across apply sessions so re-runs and delta imports resolve
// previously created targets instead of re-deriving them.
type MappingRepository interface {
	Store(ctx context.Context, m *models.EntityMapping) error
	StoreBatch(ctx context.Context, mappings []*models.EntityMapping) error
	Lookup(ctx context.Context, jobID uuid.UUID, entityType string, sourceID int64) (*models.EntityMapping, error)
	ListByType(ctx context.Context, jobID uuid.UUID, entityType string) ([]*models.EntityMapping, error)
}

type mappingRepository struct{}

// NewMappingRepository creates a new MappingRepository.
func NewMappingRepository() MappingRepository {
	return &mappingRepository{}
}

var _ MappingRepository = (*mappingRepository)(nil)

const mappingUpsert = `
	INSERT INTO engine_import_mappings (
		job_id, entity_type, source_id, target_id, target_type, metadata,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	ON CONFLICT (job_id, entity_type, source_id)
	DO UPDATE SET target_id = EXCLUDED.target_id,
	              target_type = EXCLUDED.target_type,
	              metadata = EXCLUDED.metadata,
	              updated_at = EXCLUDED.updated_at`

func (r *mappingRepository) Store(ctx context.Context, m *models.EntityMapping) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	if _, err := q.Exec(ctx, mappingUpsert,
		m.JobID, m.EntityType, m.SourceID, m.TargetID, m.TargetType,
		jsonbValue([]byte(m.Metadata)), now,
	); err != nil {
		return fmt.Errorf("failed to upsert entity mapping: %w", err)
	}
	return nil
}

func (r *mappingRepository) StoreBatch(ctx context.Context, mappings []*models.EntityMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, m := range mappings {
		batch.Queue(mappingUpsert,
			m.JobID, m.EntityType, m.SourceID, m.TargetID, m.TargetType,
			jsonbValue([]byte(m.Metadata)), now)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()
	for range mappings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert entity mappings: %w", err)
		}
	}
	return nil
}

func (r *mappingRepository) Lookup(ctx context.Context, jobID uuid.UUID, entityType string, sourceID int64) (*models.EntityMapping, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	m := &models.EntityMapping{}
	err = q.QueryRow(ctx, `
		SELECT id, job_id, entity_type, source_id, target_id, target_type,
		       COALESCE(metadata, 'null'::jsonb), created_at, updated_at
		FROM engine_import_mappings
		WHERE job_id = $1 AND entity_type = $2 AND source_id = $3`,
		jobID, entityType, sourceID,
	).Scan(&m.ID, &m.JobID, &m.EntityType, &m.SourceID, &m.TargetID, &m.TargetType,
		&m.Metadata, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up entity mapping: %w", err)
	}
	return m, nil
}

func (r *mappingRepository) ListByType(ctx context.Context, jobID uuid.UUID, entityType string) ([]*models.EntityMapping, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, job_id, entity_type, source_id, target_id, target_type,
		       COALESCE(metadata, 'null'::jsonb), created_at, updated_at
		FROM engine_import_mappings
		WHERE job_id = $1 AND entity_type = $2
		ORDER BY source_id`,
		jobID, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity mappings: %w", err)
	}
	defer rows.Close()

	var out []*models.EntityMapping
	for rows.Next() {
		m := &models.EntityMapping{}
		if err := rows.Scan(&m.ID, &m.JobID, &m.EntityType, &m.SourceID, &m.TargetID,
			&m.TargetType, &m.Metadata, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entity mappings: %w", err)
	}
	return out, nil
}
