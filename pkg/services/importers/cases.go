package importers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/jsonutil"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

type caseImporter struct{}

func (i *caseImporter) Entity() string      { return EntityCases }
func (i *caseImporter) DependsOn() []string { return []string{EntityTemplates, EntityFields} }

// caseKey is the natural key cases deduplicate on. Exports commonly repeat
// the same logical case across sections; every source row sharing a key
// resolves to one target case.
type caseKey struct {
	title          string
	classification string
}

type caseRow struct {
	stagedID       int64
	sourceID       int64
	key            caseKey
	templateSource *int64
	steps          string
	expected       string
	preconditions  string
	description    string
	payload        json.RawMessage
}

// Run consumes the staged case dataset chunk by chunk, one transaction per
// chunk. A chunk groups its rows by natural key, reuses anything already
// resolved, and bulk-inserts the remainder.
func (i *caseImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary

	total, err := rc.Staging.CountDatasetRows(ctx, rc.Job.ID, models.DatasetCases)
	if err != nil {
		return summary, err
	}
	reporter := rc.NewReporter(EntityCases, total)

	err = rc.Staging.ProcessBatches(ctx, rc.Job.ID, models.DatasetCases, rc.ChunkSize, func(ctx context.Context, rows []*models.StagedRow) (repositories.BatchResult, error) {
		chunk := newChunkState(EntityCases)

		parsed := make([]caseRow, 0, len(rows))
		for _, row := range rows {
			cr, err := i.parseRow(rc, row)
			if err != nil {
				chunk.skip(row.ID, fmt.Sprintf("row %d: %v", row.RowIndex, err))
				continue
			}
			parsed = append(parsed, cr)
		}

		txErr := rc.Scope.InTx(ctx, rc.ChunkTimeout, func(txCtx context.Context) error {
			return i.applyChunk(txCtx, rc, parsed, chunk)
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

// applyChunk resolves and writes one chunk inside its transaction. All
// session-visible state lands on the chunkState and is folded in by the
// caller once the transaction commits.
func (i *caseImporter) applyChunk(ctx context.Context, rc *RunContext, rows []caseRow, chunk *chunkState) error {
	var (
		toCreate   []*models.TestCase
		newMapping []*models.EntityMapping
		byKey      = make(map[caseKey]uuid.UUID)
	)

	for _, cr := range rows {
		nameK := cr.key.title + "\x00" + cr.key.classification

		id, ok := rc.IDMaps.Get(EntityCases, cr.sourceID)
		if !ok {
			id, ok = chunk.ids[cr.sourceID]
		}
		if !ok {
			id, ok = byKey[cr.key]
		}
		if !ok {
			if cached, hit := rc.Names.Get(EntityCases, nameK); hit {
				id, ok = cached, true
			}
		}
		if !ok {
			existing, err := rc.Catalog.Cases.FindByKey(ctx, rc.ProjectID, cr.key.title, cr.key.classification)
			switch {
			case err == nil:
				id, ok = existing.ID, true
			case errors.Is(err, apperrors.ErrNotFound):
			default:
				return err
			}
		}

		created := false
		if !ok {
			id = uuid.New()
			created = true
			toCreate = append(toCreate, i.buildCase(rc, id, cr))
		}

		byKey[cr.key] = id
		chunk.names[nameK] = id

		_, mapped := rc.IDMaps.Get(EntityCases, cr.sourceID)
		if _, pending := chunk.ids[cr.sourceID]; !mapped && !pending {
			targetID := id
			targetType := models.MappingTargetMap
			if created {
				targetType = models.MappingTargetCreate
			}
			newMapping = append(newMapping, &models.EntityMapping{
				JobID:      rc.Job.ID,
				EntityType: EntityCases,
				SourceID:   cr.sourceID,
				TargetID:   &targetID,
				TargetType: targetType,
			})
			chunk.ids[cr.sourceID] = id
		}

		if created {
			chunk.created++
		} else {
			chunk.mapped++
		}
		chunk.done = append(chunk.done, cr.stagedID)
	}

	if len(toCreate) > 0 {
		if err := rc.Catalog.Cases.CreateBatch(ctx, toCreate); err != nil {
			return err
		}
	}
	if len(newMapping) > 0 {
		if err := rc.Mappings.StoreBatch(ctx, newMapping); err != nil {
			return err
		}
	}

	return nil
}

func (i *caseImporter) parseRow(rc *RunContext, row *models.StagedRow) (caseRow, error) {
	var data map[string]any
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return caseRow{}, fmt.Errorf("unparseable payload: %w", err)
	}

	sourceID, ok := jsonutil.Int64Key(data, "id")
	if !ok {
		return caseRow{}, errors.New("missing source id")
	}
	title, _ := jsonutil.StringKey(data, "title", "name")
	if title == "" {
		return caseRow{}, errors.New("missing title")
	}
	classification, _ := jsonutil.StringKey(data, "classification", "custom_automation_type", "class")

	cr := caseRow{
		stagedID:      row.ID,
		sourceID:      sourceID,
		key:           caseKey{title: title, classification: classification},
		steps:         row.Text1,
		expected:      row.Text2,
		preconditions: row.Text3,
		description:   row.Text4,
		payload:       row.Data,
	}
	if tplSource, ok := jsonutil.Int64Key(data, "template_id"); ok {
		cr.templateSource = &tplSource
	}
	return cr, nil
}

func (i *caseImporter) buildCase(rc *RunContext, id uuid.UUID, cr caseRow) *models.TestCase {
	tc := &models.TestCase{
		ID:             id,
		ProjectID:      rc.ProjectID,
		Title:          cr.key.title,
		Classification: cr.key.classification,
		Steps:          cr.steps,
		ExpectedResult: cr.expected,
		Preconditions:  cr.preconditions,
		Description:    cr.description,
		Payload:        cr.payload,
	}
	if cr.templateSource != nil {
		if tplID, ok := rc.IDMaps.Get(EntityTemplates, *cr.templateSource); ok {
			tc.TemplateID = &tplID
		}
	}
	return tc
}
