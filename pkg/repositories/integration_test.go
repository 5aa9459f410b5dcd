package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/database"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/testhelpers"
)

// scopedCtx registers a fresh project and returns a context carrying a
// project-scoped connection for it.
func scopedCtx(t *testing.T) (context.Context, uuid.UUID) {
	t.Helper()

	db := testhelpers.GetTestDB(t)
	projectID := uuid.New()

	scope, err := db.DB.WithProject(context.Background(), projectID)
	require.NoError(t, err)
	t.Cleanup(scope.Close)

	ctx := database.SetProjectScope(context.Background(), scope)

	now := time.Now()
	require.NoError(t, NewProjectRepository().Create(ctx, &models.Project{
		ID:        projectID,
		Name:      "integration test project",
		CreatedAt: now,
		UpdatedAt: now,
	}))
	return ctx, projectID
}

func createJob(t *testing.T, ctx context.Context, projectID uuid.UUID) *models.ImportJob {
	t.Helper()
	job := &models.ImportJob{
		ID:         uuid.New(),
		ProjectID:  projectID,
		Status:     models.JobStatusQueued,
		Phase:      models.JobPhaseUploading,
		SourceName: "export.json",
	}
	require.NoError(t, NewJobRepository().Create(ctx, job))
	return job
}

func stageRows(n int) []models.StageRow {
	rows := make([]models.StageRow, n)
	for i := range rows {
		rows[i] = models.StageRow{
			Index: i,
			Data:  json.RawMessage(fmt.Sprintf(`{"id": %d, "name": "row %d"}`, i+1, i)),
		}
	}
	return rows
}

func TestStagingRepositoryStageIsIdempotent(t *testing.T) {
	ctx, projectID := scopedCtx(t)
	job := createJob(t, ctx, projectID)
	repo := NewStagingRepository()

	require.NoError(t, repo.StageBatch(ctx, job.ID, models.DatasetCases, stageRows(5)))
	// Re-staging the same indexes is a no-op, not a duplicate.
	require.NoError(t, repo.StageBatch(ctx, job.ID, models.DatasetCases, stageRows(5)))

	count, err := repo.CountDatasetRows(ctx, job.ID, models.DatasetCases)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	all, err := repo.FetchAll(ctx, job.ID, models.DatasetCases)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, row := range all {
		assert.Equal(t, i, row.RowIndex, "rows come back in staging order")
	}
}

func TestStagingRepositoryProcessBatches(t *testing.T) {
	ctx, projectID := scopedCtx(t)
	job := createJob(t, ctx, projectID)
	repo := NewStagingRepository()

	require.NoError(t, repo.StageBatch(ctx, job.ID, models.DatasetRuns, stageRows(6)))

	var batches int
	err := repo.ProcessBatches(ctx, job.ID, models.DatasetRuns, 4, func(ctx context.Context, rows []*models.StagedRow) (BatchResult, error) {
		batches++
		// Skip the first row of the first batch with a recorded cause;
		// everything else succeeds.
		res := BatchResult{Failed: make(map[int64]string)}
		for i, row := range rows {
			if batches == 1 && i == 0 {
				res.Failed[row.ID] = "missing source id"
				continue
			}
			res.Done = append(res.Done, row.ID)
		}
		return res, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, batches)

	total, unprocessed, err := repo.CountRows(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Equal(t, 0, unprocessed, "skipped rows are marked failed, not left behind")

	failed, err := repo.CountFailed(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	failedRows, err := repo.FailedRows(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, failedRows, 1)
	assert.Equal(t, 0, failedRows[0].RowIndex)
	assert.Equal(t, "missing source id", failedRows[0].Error, "the per-row cause survives on the staging row")
}

func TestStagingRepositoryBatchErrorFailsWholeBatch(t *testing.T) {
	ctx, projectID := scopedCtx(t)
	job := createJob(t, ctx, projectID)
	repo := NewStagingRepository()

	require.NoError(t, repo.StageBatch(ctx, job.ID, models.DatasetResults, stageRows(4)))

	var batches int
	err := repo.ProcessBatches(ctx, job.ID, models.DatasetResults, 2, func(ctx context.Context, rows []*models.StagedRow) (BatchResult, error) {
		batches++
		if batches == 1 {
			return BatchResult{}, fmt.Errorf("chunk write failed")
		}
		var res BatchResult
		for _, row := range rows {
			res.Done = append(res.Done, row.ID)
		}
		return res, nil
	})
	require.NoError(t, err, "a failed batch does not abort the walk")
	assert.Equal(t, 2, batches, "the cursor moves past the failed batch")

	failed, err := repo.CountFailed(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, failed)

	failedRows, err := repo.FailedRows(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, failedRows, 2)
	assert.Contains(t, failedRows[0].Error, "chunk write failed")

	// Retry path: failed rows flip back to unprocessed.
	reset, err := repo.ResetFailed(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)

	_, unprocessed, err := repo.CountRows(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, unprocessed)
}

func TestStagingRepositoryCleanup(t *testing.T) {
	ctx, projectID := scopedCtx(t)
	job := createJob(t, ctx, projectID)
	staging := NewStagingRepository()
	mappings := NewMappingRepository()

	require.NoError(t, staging.StageBatch(ctx, job.ID, models.DatasetCases, stageRows(3)))
	target := uuid.New()
	require.NoError(t, mappings.Store(ctx, &models.EntityMapping{
		JobID:      job.ID,
		EntityType: "cases",
		SourceID:   1,
		TargetID:   &target,
		TargetType: models.MappingTargetCreate,
	}))

	// CleanupStaging drops rows but keeps mappings for incremental re-imports.
	require.NoError(t, staging.CleanupStaging(ctx, job.ID))
	total, _, err := staging.CountRows(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	_, err = mappings.Lookup(ctx, job.ID, "cases", 1)
	require.NoError(t, err)

	// CleanupJob drops both.
	require.NoError(t, staging.CleanupJob(ctx, job.ID))
	_, err = mappings.Lookup(ctx, job.ID, "cases", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMappingRepositoryUpsert(t *testing.T) {
	ctx, projectID := scopedCtx(t)
	job := createJob(t, ctx, projectID)
	repo := NewMappingRepository()

	first := uuid.New()
	require.NoError(t, repo.Store(ctx, &models.EntityMapping{
		JobID:      job.ID,
		EntityType: "statuses",
		SourceID:   7,
		TargetID:   &first,
		TargetType: models.MappingTargetCreate,
	}))

	second := uuid.New()
	require.NoError(t, repo.Store(ctx, &models.EntityMapping{
		JobID:      job.ID,
		EntityType: "statuses",
		SourceID:   7,
		TargetID:   &second,
		TargetType: models.MappingTargetMap,
	}))

	m, err := repo.Lookup(ctx, job.ID, "statuses", 7)
	require.NoError(t, err)
	require.NotNil(t, m.TargetID)
	assert.Equal(t, second, *m.TargetID)
	assert.Equal(t, models.MappingTargetMap, m.TargetType)

	byType, err := repo.ListByType(ctx, job.ID, "statuses")
	require.NoError(t, err)
	assert.Len(t, byType, 1, "upsert must not duplicate")
}

func TestJobRepositoryLifecycle(t *testing.T) {
	ctx, projectID := scopedCtx(t)
	repo := NewJobRepository()
	job := createJob(t, ctx, projectID)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, "export.json", got.SourceName)

	require.NoError(t, repo.UpdateState(ctx, job.ID, models.JobStatusRunning, models.JobPhaseAnalyzing))

	plan := &models.ImportPlan{
		RequiresConfiguration: true,
		Counts:                map[string]int{"statuses": 3},
	}
	datasets := []*models.DatasetSummary{
		{Name: models.DatasetStatuses, RowCount: 3, SampleRows: []json.RawMessage{json.RawMessage(`{"id": 1}`)}},
	}
	require.NoError(t, repo.SavePlan(ctx, job.ID, plan, datasets))

	gotPlan, gotDatasets, err := repo.GetPlan(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, gotPlan.RequiresConfiguration)
	assert.Equal(t, 3, gotPlan.Counts["statuses"])
	require.Len(t, gotDatasets, 1)
	assert.Equal(t, models.DatasetStatuses, gotDatasets[0].Name)

	cfg := &models.MappingConfig{
		Statuses: map[int64]*models.StatusMapping{
			1: {MappingRef: models.MappingRef{Action: models.ActionCreate}, Name: "Passed"},
		},
	}
	require.NoError(t, repo.SaveConfig(ctx, job.ID, cfg))
	gotCfg, err := repo.GetConfig(ctx, job.ID)
	require.NoError(t, err)
	require.Contains(t, gotCfg.Statuses, int64(1))
	assert.Equal(t, "Passed", gotCfg.Statuses[1].Name)

	require.NoError(t, repo.AppendActivity(ctx, job.ID, models.ActivityEntry{
		Timestamp: time.Now(),
		Entity:    "statuses",
		Summary:   "3 total, 3 created",
	}))

	require.NoError(t, repo.Complete(ctx, job.ID))
	got, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	require.Len(t, got.Activity, 1)
	assert.Equal(t, "statuses", got.Activity[0].Entity)
}

func TestJobRepositoryGetByIDNotFound(t *testing.T) {
	ctx, _ := scopedCtx(t)
	_, err := NewJobRepository().GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
