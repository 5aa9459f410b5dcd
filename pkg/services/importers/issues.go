package importers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/caseflow-io/caseflow-engine/pkg/jsonutil"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

type issueLinkImporter struct{}

func (i *issueLinkImporter) Entity() string      { return EntityIssueLinks }
func (i *issueLinkImporter) DependsOn() []string { return []string{EntityCases} }

// Provider URL templates used when the export carries an issue reference
// without an explicit link. The %s placeholders are base URL and issue id.
var providerURLTemplates = map[models.IssueProvider]string{
	models.ProviderJira:   "%s/browse/%s",
	models.ProviderGitHub: "%s/issues/%s",
	models.ProviderGitLab: "%s/-/issues/%s",
	models.ProviderAzure:  "%s/_workitems/edit/%s",
}

// Run consumes the staged issue dataset. Each row links a resolved case to
// an external tracker issue; the provider set is closed, unknown providers
// are skipped. Insertion relies on the store's conflict handling, so
// re-running a job never duplicates links.
func (i *issueLinkImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary

	total, err := rc.Staging.CountDatasetRows(ctx, rc.Job.ID, models.DatasetIssues)
	if err != nil {
		return summary, err
	}
	reporter := rc.NewReporter(EntityIssueLinks, total)

	err = rc.Staging.ProcessBatches(ctx, rc.Job.ID, models.DatasetIssues, rc.ChunkSize, func(ctx context.Context, rows []*models.StagedRow) (repositories.BatchResult, error) {
		chunk := newChunkState(EntityIssueLinks)

		txErr := rc.Scope.InTx(ctx, rc.ChunkTimeout, func(txCtx context.Context) error {
			var toCreate []*models.IssueLink

			for _, row := range rows {
				if link := i.buildLink(rc, chunk, row); link != nil {
					toCreate = append(toCreate, link)
					chunk.done = append(chunk.done, row.ID)
				}
			}

			if len(toCreate) == 0 {
				return nil
			}
			return rc.Catalog.IssueLinks.CreateBatch(txCtx, toCreate)
		})
		if txErr != nil {
			return repositories.BatchResult{}, txErr
		}

		res := chunk.commit(rc, &summary)
		reporter.Report(summary.Total)
		return res, nil
	})
	if err != nil {
		return summary, err
	}

	reporter.Final(summary.Total)
	return summary, nil
}

func (i *issueLinkImporter) buildLink(rc *RunContext, chunk *chunkState, row *models.StagedRow) *models.IssueLink {
	var data map[string]any
	if err := json.Unmarshal(row.Data, &data); err != nil {
		chunk.skip(row.ID, fmt.Sprintf("row %d: unparseable payload", row.RowIndex))
		return nil
	}

	caseSource, ok := jsonutil.Int64Key(data, "case_id", "test_id")
	if !ok {
		chunk.skip(row.ID, fmt.Sprintf("row %d: missing case reference", row.RowIndex))
		return nil
	}
	caseID, ok := rc.IDMaps.Get(EntityCases, caseSource)
	if !ok {
		chunk.skip(row.ID, fmt.Sprintf("row %d: case %d not resolved", row.RowIndex, caseSource))
		return nil
	}

	providerName, _ := jsonutil.StringKey(data, "provider", "tracker", "type")
	provider := models.IssueProvider(strings.ToLower(strings.TrimSpace(providerName)))
	if !models.ValidIssueProvider(provider) {
		chunk.skip(row.ID, fmt.Sprintf("row %d: unsupported provider %q", row.RowIndex, providerName))
		return nil
	}

	externalID, _ := jsonutil.StringKey(data, "external_id", "issue_id", "key", "reference")
	if externalID == "" {
		chunk.skip(row.ID, fmt.Sprintf("row %d: missing external issue id", row.RowIndex))
		return nil
	}

	url, _ := jsonutil.StringKey(data, "url", "link")
	if url == "" {
		if base, ok := jsonutil.StringKey(data, "base_url", "tracker_url"); ok {
			url = fmt.Sprintf(providerURLTemplates[provider], strings.TrimRight(base, "/"), externalID)
		}
	}

	chunk.created++
	return &models.IssueLink{
		ID:         uuid.New(),
		ProjectID:  rc.ProjectID,
		CaseID:     &caseID,
		Provider:   provider,
		ExternalID: externalID,
		URL:        url,
	}
}
