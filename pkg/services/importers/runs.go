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

type runImporter struct{}

func (i *runImporter) Entity() string { return EntityRuns }

func (i *runImporter) DependsOn() []string {
	return []string{EntityConfigurations, EntityCases}
}

// Run consumes the staged run dataset chunk by chunk. Runs deduplicate on
// name within the project; a run's configuration reference resolves through
// the configuration ID map when present and is dropped otherwise.
func (i *runImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary

	total, err := rc.Staging.CountDatasetRows(ctx, rc.Job.ID, models.DatasetRuns)
	if err != nil {
		return summary, err
	}
	reporter := rc.NewReporter(EntityRuns, total)

	err = rc.Staging.ProcessBatches(ctx, rc.Job.ID, models.DatasetRuns, rc.ChunkSize, func(ctx context.Context, rows []*models.StagedRow) (repositories.BatchResult, error) {
		chunk := newChunkState(EntityRuns)

		txErr := rc.Scope.InTx(ctx, rc.ChunkTimeout, func(txCtx context.Context) error {
			for _, row := range rows {
				if err := i.applyRow(txCtx, rc, chunk, row); err != nil {
					return err
				}
			}
			return nil
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

// applyRow resolves one staged run row inside the chunk transaction. Skips
// and resolutions accumulate on the chunkState until the transaction commits.
func (i *runImporter) applyRow(ctx context.Context, rc *RunContext, chunk *chunkState, row *models.StagedRow) error {
	var data map[string]any
	if err := json.Unmarshal(row.Data, &data); err != nil {
		chunk.skip(row.ID, fmt.Sprintf("row %d: unparseable payload", row.RowIndex))
		return nil
	}

	sourceID, ok := jsonutil.Int64Key(data, "id")
	if !ok {
		chunk.skip(row.ID, fmt.Sprintf("row %d: missing source id", row.RowIndex))
		return nil
	}
	name, _ := jsonutil.StringKey(data, "name", "title")
	if name == "" {
		chunk.skip(row.ID, fmt.Sprintf("run %d: missing name", sourceID))
		return nil
	}

	if _, mapped := rc.IDMaps.Get(EntityRuns, sourceID); mapped {
		chunk.mapped++
		chunk.done = append(chunk.done, row.ID)
		return nil
	}
	if _, pending := chunk.ids[sourceID]; pending {
		chunk.mapped++
		chunk.done = append(chunk.done, row.ID)
		return nil
	}

	id, hit := rc.Names.Get(EntityRuns, name)
	if !hit {
		id, hit = chunk.names[name]
	}
	created := false
	if !hit {
		existing, err := rc.Catalog.Runs.FindByName(ctx, rc.ProjectID, name)
		switch {
		case err == nil:
			id = existing.ID
		case errors.Is(err, apperrors.ErrNotFound):
			closed, _ := jsonutil.BoolKey(data, "is_completed", "is_closed")
			run := &models.TestRun{
				ID:        uuid.New(),
				ProjectID: rc.ProjectID,
				Name:      name,
				IsClosed:  closed,
			}
			if cfgSource, ok := jsonutil.Int64Key(data, "config_id"); ok {
				if cfgID, ok := rc.IDMaps.Get(EntityConfigurations, cfgSource); ok {
					run.ConfigGroupID = &cfgID
				}
			}
			if option, ok := jsonutil.StringKey(data, "config", "configuration"); ok {
				run.ConfigOption = option
			}
			if err := rc.Catalog.Runs.Create(ctx, run); err != nil {
				return err
			}
			id = run.ID
			created = true
		default:
			return err
		}
	}
	chunk.names[name] = id

	targetID := id
	targetType := models.MappingTargetMap
	if created {
		targetType = models.MappingTargetCreate
	}
	if err := rc.Mappings.Store(ctx, &models.EntityMapping{
		JobID:      rc.Job.ID,
		EntityType: EntityRuns,
		SourceID:   sourceID,
		TargetID:   &targetID,
		TargetType: targetType,
	}); err != nil {
		return err
	}
	chunk.ids[sourceID] = id

	if created {
		chunk.created++
	} else {
		chunk.mapped++
	}
	chunk.done = append(chunk.done, row.ID)
	return nil
}
