package importers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow-io/caseflow-engine/pkg/jsonutil"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

type resultImporter struct{}

func (i *resultImporter) Entity() string { return EntityResults }

func (i *resultImporter) DependsOn() []string {
	return []string{EntityStatuses, EntityUsers, EntityCases, EntityRuns}
}

// Run consumes the staged result dataset chunk by chunk. Every result must
// reference a run and a case resolved earlier in the session; rows whose
// references are unresolved, or whose run and case landed in different
// projects, are skipped with a recorded cause rather than failing the job.
func (i *resultImporter) Run(ctx context.Context, rc *RunContext) (EntitySummary, error) {
	var summary EntitySummary

	total, err := rc.Staging.CountDatasetRows(ctx, rc.Job.ID, models.DatasetResults)
	if err != nil {
		return summary, err
	}
	reporter := rc.NewReporter(EntityResults, total)

	// Per-entity project cache for the cross-project guard. Mapped runs and
	// cases can point at entities outside this project; one lookup per
	// distinct id covers the whole dataset.
	projects := make(map[uuid.UUID]uuid.UUID)

	err = rc.Staging.ProcessBatches(ctx, rc.Job.ID, models.DatasetResults, rc.ChunkSize, func(ctx context.Context, rows []*models.StagedRow) (repositories.BatchResult, error) {
		chunk := newChunkState(EntityResults)

		txErr := rc.Scope.InTx(ctx, rc.ChunkTimeout, func(txCtx context.Context) error {
			var toCreate []*models.TestResult

			for _, row := range rows {
				if result := i.buildResult(txCtx, rc, chunk, row, projects); result != nil {
					toCreate = append(toCreate, result)
					chunk.done = append(chunk.done, row.ID)
				}
			}

			if len(toCreate) == 0 {
				return nil
			}
			return rc.Catalog.Results.CreateBatch(txCtx, toCreate)
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

// buildResult parses and resolves one staged result row. It returns nil when
// the row is skipped; the skip cause lands on the chunkState and ultimately
// on the staging row itself.
func (i *resultImporter) buildResult(ctx context.Context, rc *RunContext, chunk *chunkState, row *models.StagedRow, projects map[uuid.UUID]uuid.UUID) *models.TestResult {
	var data map[string]any
	if err := json.Unmarshal(row.Data, &data); err != nil {
		chunk.skip(row.ID, fmt.Sprintf("row %d: unparseable payload", row.RowIndex))
		return nil
	}

	runSource, ok := jsonutil.Int64Key(data, "run_id")
	if !ok {
		chunk.skip(row.ID, fmt.Sprintf("row %d: missing run reference", row.RowIndex))
		return nil
	}
	caseSource, ok := jsonutil.Int64Key(data, "case_id", "test_id")
	if !ok {
		chunk.skip(row.ID, fmt.Sprintf("row %d: missing case reference", row.RowIndex))
		return nil
	}

	runID, ok := rc.IDMaps.Get(EntityRuns, runSource)
	if !ok {
		chunk.skip(row.ID, fmt.Sprintf("row %d: run %d not resolved", row.RowIndex, runSource))
		return nil
	}
	caseID, ok := rc.IDMaps.Get(EntityCases, caseSource)
	if !ok {
		chunk.skip(row.ID, fmt.Sprintf("row %d: case %d not resolved", row.RowIndex, caseSource))
		return nil
	}

	runProject, err := i.runProject(ctx, rc, projects, runID)
	if err != nil {
		chunk.skip(row.ID, fmt.Sprintf("row %d: run lookup failed: %v", row.RowIndex, err))
		return nil
	}
	caseProject, err := i.caseProject(ctx, rc, projects, caseID)
	if err != nil {
		chunk.skip(row.ID, fmt.Sprintf("row %d: case lookup failed: %v", row.RowIndex, err))
		return nil
	}
	if runProject != caseProject {
		chunk.skip(row.ID, fmt.Sprintf("row %d: run and case belong to different projects", row.RowIndex))
		return nil
	}

	result := &models.TestResult{
		ID:        uuid.New(),
		ProjectID: runProject,
		RunID:     runID,
		CaseID:    caseID,
		Payload:   row.Data,
	}
	if statusSource, ok := jsonutil.Int64Key(data, "status_id"); ok {
		if statusID, resolved := rc.IDMaps.Get(EntityStatuses, statusSource); resolved {
			result.StatusID = &statusID
		}
	}
	if userSource, ok := jsonutil.Int64Key(data, "executed_by", "assignedto_id", "created_by"); ok {
		if userID, resolved := rc.IDMaps.Get(EntityUsers, userSource); resolved {
			result.ExecutedBy = &userID
		}
	}
	if comment, ok := jsonutil.StringKey(data, "comment"); ok {
		result.Comment = comment
	}
	if elapsed, ok := parseElapsed(data); ok {
		result.Elapsed = &elapsed
	}
	if ts, ok := jsonutil.Int64Key(data, "executed_on", "created_on"); ok {
		executedAt := time.Unix(ts, 0).UTC()
		result.ExecutedAt = &executedAt
	}

	chunk.created++
	return result
}

func (i *resultImporter) runProject(ctx context.Context, rc *RunContext, projects map[uuid.UUID]uuid.UUID, id uuid.UUID) (uuid.UUID, error) {
	if p, ok := projects[id]; ok {
		return p, nil
	}
	run, err := rc.Catalog.Runs.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	projects[id] = run.ProjectID
	return run.ProjectID, nil
}

func (i *resultImporter) caseProject(ctx context.Context, rc *RunContext, projects map[uuid.UUID]uuid.UUID, id uuid.UUID) (uuid.UUID, error) {
	if p, ok := projects[id]; ok {
		return p, nil
	}
	testCase, err := rc.Catalog.Cases.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	projects[id] = testCase.ProjectID
	return testCase.ProjectID, nil
}

// parseElapsed accepts elapsed durations either as a number of seconds or as
// shorthand like "1m 30s".
func parseElapsed(data map[string]any) (int64, bool) {
	if n, ok := jsonutil.Int64Key(data, "elapsed_seconds", "elapsed"); ok {
		return n, true
	}
	s, ok := jsonutil.StringKey(data, "elapsed")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.ReplaceAll(strings.ToLower(s), " ", ""))
	if err != nil {
		return 0, false
	}
	return int64(d.Seconds()), true
}
