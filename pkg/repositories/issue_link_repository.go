package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// IssueLinkRepository defines the interface for external issue link data access.
type IssueLinkRepository interface {
	Create(ctx context.Context, link *models.IssueLink) error
	CreateBatch(ctx context.Context, links []*models.IssueLink) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*models.IssueLink, error)
}

type issueLinkRepository struct{}

// NewIssueLinkRepository creates a new issue link repository.
func NewIssueLinkRepository() IssueLinkRepository {
	return &issueLinkRepository{}
}

var _ IssueLinkRepository = (*issueLinkRepository)(nil)

const issueLinkInsert = `
	INSERT INTO engine_issue_links (id, project_id, case_id, result_id, provider, external_id, url, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (project_id, provider, external_id, case_id) DO NOTHING`

func prepareIssueLink(link *models.IssueLink) {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
}

func (r *issueLinkRepository) Create(ctx context.Context, link *models.IssueLink) error {
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	prepareIssueLink(link)
	_, err = q.Exec(ctx, issueLinkInsert,
		link.ID, link.ProjectID, link.CaseID, link.ResultID, link.Provider,
		link.ExternalID, nullString(link.URL), link.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create issue link: %w", err)
	}
	return nil
}

func (r *issueLinkRepository) CreateBatch(ctx context.Context, links []*models.IssueLink) error {
	if len(links) == 0 {
		return nil
	}
	q, err := scopeQ(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, link := range links {
		prepareIssueLink(link)
		batch.Queue(issueLinkInsert,
			link.ID, link.ProjectID, link.CaseID, link.ResultID, link.Provider,
			link.ExternalID, nullString(link.URL), link.CreatedAt)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()
	for range links {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert issue link batch: %w", err)
		}
	}
	return nil
}

func (r *issueLinkRepository) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*models.IssueLink, error) {
	q, err := scopeQ(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, project_id, case_id, result_id, provider, external_id, COALESCE(url, ''), created_at
		FROM engine_issue_links WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issue links: %w", err)
	}
	defer rows.Close()

	var out []*models.IssueLink
	for rows.Next() {
		link := &models.IssueLink{}
		err := rows.Scan(&link.ID, &link.ProjectID, &link.CaseID, &link.ResultID,
			&link.Provider, &link.ExternalID, &link.URL, &link.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue link: %w", err)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}
