package importers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

// passTx runs chunk functions without a real transaction.
type passTx struct{}

func (passTx) InTx(ctx context.Context, _ time.Duration, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// memStagingRows mimics the staging store's batch walk and row marking over
// an in-memory slice.
type memStagingRows struct {
	rows []*models.StagedRow
}

var _ repositories.StagingRepository = (*memStagingRows)(nil)

func newMemStagingRows(dataset string, payloads ...string) *memStagingRows {
	s := &memStagingRows{}
	for i, p := range payloads {
		s.rows = append(s.rows, &models.StagedRow{
			ID:       int64(i + 1),
			Dataset:  dataset,
			RowIndex: i,
			Data:     json.RawMessage(p),
		})
	}
	return s
}

func (s *memStagingRows) StageBatch(ctx context.Context, jobID uuid.UUID, dataset string, rows []models.StageRow) error {
	for _, r := range rows {
		s.rows = append(s.rows, &models.StagedRow{
			ID:       int64(len(s.rows) + 1),
			Dataset:  dataset,
			RowIndex: r.Index,
			Data:     r.Data,
		})
	}
	return nil
}

func (s *memStagingRows) ProcessBatches(ctx context.Context, jobID uuid.UUID, dataset string, batchSize int, fn repositories.BatchProcessor) error {
	if batchSize <= 0 {
		batchSize = 250
	}
	for {
		var batch []*models.StagedRow
		for _, row := range s.rows {
			if row.Dataset == dataset && !row.Processed {
				batch = append(batch, row)
				if len(batch) == batchSize {
					break
				}
			}
		}
		if len(batch) == 0 {
			return nil
		}

		res, err := fn(ctx, batch)
		fallback := "row not consumed by processor"
		if err != nil {
			res = repositories.BatchResult{}
			fallback = err.Error()
		}

		done := make(map[int64]bool, len(res.Done))
		for _, id := range res.Done {
			done[id] = true
		}
		for _, row := range batch {
			row.Processed = true
			switch {
			case done[row.ID]:
				row.Error = ""
			default:
				cause, ok := res.Failed[row.ID]
				if !ok {
					cause = fallback
				}
				row.Error = cause
			}
		}
	}
}

func (s *memStagingRows) CountRows(ctx context.Context, jobID uuid.UUID) (int, int, error) {
	unprocessed := 0
	for _, row := range s.rows {
		if !row.Processed {
			unprocessed++
		}
	}
	return len(s.rows), unprocessed, nil
}

func (s *memStagingRows) CountDatasetRows(ctx context.Context, jobID uuid.UUID, dataset string) (int, error) {
	n := 0
	for _, row := range s.rows {
		if row.Dataset == dataset {
			n++
		}
	}
	return n, nil
}

func (s *memStagingRows) FetchAll(ctx context.Context, jobID uuid.UUID, dataset string) ([]*models.StagedRow, error) {
	var out []*models.StagedRow
	for _, row := range s.rows {
		if row.Dataset == dataset {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memStagingRows) CountFailed(ctx context.Context, jobID uuid.UUID) (int, error) {
	n := 0
	for _, row := range s.rows {
		if row.Processed && row.Error != "" {
			n++
		}
	}
	return n, nil
}

func (s *memStagingRows) FailedRows(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.StagedRow, error) {
	var out []*models.StagedRow
	for _, row := range s.rows {
		if row.Processed && row.Error != "" {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStagingRows) ResetFailed(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var n int64
	for _, row := range s.rows {
		if row.Processed && row.Error != "" {
			row.Processed = false
			row.Error = ""
			n++
		}
	}
	return n, nil
}

func (s *memStagingRows) CleanupJob(ctx context.Context, jobID uuid.UUID) error {
	s.rows = nil
	return nil
}

func (s *memStagingRows) CleanupStaging(ctx context.Context, jobID uuid.UUID) error {
	s.rows = nil
	return nil
}

// memCases is an in-memory CaseRepository.
type memCases struct {
	byID       map[uuid.UUID]*models.TestCase
	failCreate error
}

var _ repositories.CaseRepository = (*memCases)(nil)

func newMemCases() *memCases {
	return &memCases{byID: make(map[uuid.UUID]*models.TestCase)}
}

func (r *memCases) Create(ctx context.Context, testCase *models.TestCase) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	r.byID[testCase.ID] = testCase
	return nil
}

func (r *memCases) CreateBatch(ctx context.Context, cases []*models.TestCase) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	for _, c := range cases {
		r.byID[c.ID] = c
	}
	return nil
}

func (r *memCases) GetByID(ctx context.Context, id uuid.UUID) (*models.TestCase, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (r *memCases) FindByKey(ctx context.Context, projectID uuid.UUID, title, classification string) (*models.TestCase, error) {
	for _, c := range r.byID {
		if c.ProjectID == projectID && c.Title == title && c.Classification == classification {
			return c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memCases) Count(ctx context.Context, projectID uuid.UUID) (int64, error) {
	return int64(len(r.byID)), nil
}

// memRuns is an in-memory RunRepository.
type memRuns struct {
	byID       map[uuid.UUID]*models.TestRun
	failCreate error
}

var _ repositories.RunRepository = (*memRuns)(nil)

func newMemRuns() *memRuns {
	return &memRuns{byID: make(map[uuid.UUID]*models.TestRun)}
}

func (r *memRuns) Create(ctx context.Context, run *models.TestRun) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	r.byID[run.ID] = run
	return nil
}

func (r *memRuns) GetByID(ctx context.Context, id uuid.UUID) (*models.TestRun, error) {
	run, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return run, nil
}

func (r *memRuns) FindByName(ctx context.Context, projectID uuid.UUID, name string) (*models.TestRun, error) {
	for _, run := range r.byID {
		if run.ProjectID == projectID && run.Name == name {
			return run, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memRuns) List(ctx context.Context, projectID uuid.UUID) ([]*models.TestRun, error) {
	var out []*models.TestRun
	for _, run := range r.byID {
		out = append(out, run)
	}
	return out, nil
}

// memResults is an in-memory ResultRepository.
type memResults struct {
	created []*models.TestResult
}

var _ repositories.ResultRepository = (*memResults)(nil)

func (r *memResults) CreateBatch(ctx context.Context, results []*models.TestResult) error {
	r.created = append(r.created, results...)
	return nil
}

func (r *memResults) CountByRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	return int64(len(r.created)), nil
}

func (r *memResults) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.TestResult, error) {
	return r.created, nil
}

func newChunkedRunContext(catalog Catalog, staging *memStagingRows, mappings *recMappings) *RunContext {
	rc := newRunContext(&models.MappingConfig{}, catalog, mappings)
	rc.Scope = passTx{}
	rc.Staging = staging
	rc.ChunkSize = 10
	return rc
}

func TestCaseImporterGroupsRowsByNaturalKey(t *testing.T) {
	staging := newMemStagingRows(models.DatasetCases,
		`{"id": 101, "title": "Login", "classification": "smoke"}`,
		`{"id": 102, "title": "Login", "classification": "smoke"}`,
		`{"id": 103, "title": "Logout"}`,
	)
	cases := newMemCases()
	mappings := &recMappings{}
	rc := newChunkedRunContext(Catalog{Cases: cases}, staging, mappings)

	summary, err := (&caseImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Created, "two distinct natural keys, one case each")
	assert.Equal(t, 1, summary.Mapped)
	assert.Len(t, cases.byID, 2)

	id101, ok := rc.IDMaps.Get(EntityCases, 101)
	require.True(t, ok)
	id102, ok := rc.IDMaps.Get(EntityCases, 102)
	require.True(t, ok)
	assert.Equal(t, id101, id102, "rows sharing a key resolve to one case")
	assert.Len(t, mappings.stored, 3, "every source id gets a mapping")

	_, unprocessed, err := staging.CountRows(context.Background(), rc.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unprocessed)
}

func TestCaseImporterFailedChunkLeavesSessionClean(t *testing.T) {
	staging := newMemStagingRows(models.DatasetCases,
		`{"id": 101, "title": "Login", "classification": "smoke"}`,
		`{"id": 103, "title": "Logout"}`,
	)
	cases := newMemCases()
	cases.failCreate = errors.New("insert failed")
	mappings := &recMappings{}
	rc := newChunkedRunContext(Catalog{Cases: cases}, staging, mappings)

	summary, err := (&caseImporter{}).Run(context.Background(), rc)
	require.NoError(t, err, "a failed chunk marks its rows and the walk goes on")

	// Nothing was committed, so nothing may leak into session state.
	assert.Equal(t, 0, rc.IDMaps.Count(EntityCases))
	_, hit := rc.Names.Get(EntityCases, "Login\x00smoke")
	assert.False(t, hit)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, mappings.stored)

	failed, err := staging.CountFailed(context.Background(), rc.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
	failedRows, err := staging.FailedRows(context.Background(), rc.Job.ID, 10)
	require.NoError(t, err)
	require.Len(t, failedRows, 2)
	assert.Contains(t, failedRows[0].Error, "insert failed")
}

func TestRunImporterFailedChunkLeavesSessionClean(t *testing.T) {
	staging := newMemStagingRows(models.DatasetRuns,
		`{"id": 7, "name": "Sprint 1"}`,
	)
	runs := newMemRuns()
	runs.failCreate = errors.New("insert failed")
	rc := newChunkedRunContext(Catalog{Runs: runs}, staging, &recMappings{})

	summary, err := (&runImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 0, rc.IDMaps.Count(EntityRuns))
	_, hit := rc.Names.Get(EntityRuns, "Sprint 1")
	assert.False(t, hit)
	assert.Equal(t, 0, summary.Total)

	failed, err := staging.CountFailed(context.Background(), rc.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestRunImporterRecordsSkipCausesOnRows(t *testing.T) {
	staging := newMemStagingRows(models.DatasetRuns,
		`{"id": 7, "name": "Sprint 1"}`,
		`{"id": 8}`,
	)
	runs := newMemRuns()
	rc := newChunkedRunContext(Catalog{Runs: runs}, staging, &recMappings{})

	summary, err := (&runImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Skipped)

	all, err := staging.FetchAll(context.Background(), rc.Job.ID, models.DatasetRuns)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Processed)
	assert.Empty(t, all[0].Error)
	assert.True(t, all[1].Processed)
	assert.Contains(t, all[1].Error, "missing name", "the skip cause lands on the staging row")
}

func TestResultImporterSkipsCrossProjectRows(t *testing.T) {
	staging := newMemStagingRows(models.DatasetResults,
		`{"id": 1, "run_id": 7, "case_id": 11, "comment": "passed"}`,
		`{"id": 2, "run_id": 7, "case_id": 12}`,
		`{"id": 3, "run_id": 99, "case_id": 11}`,
	)
	runs := newMemRuns()
	cases := newMemCases()
	results := &memResults{}
	rc := newChunkedRunContext(Catalog{Runs: runs, Cases: cases, Results: results}, staging, &recMappings{})

	otherProject := uuid.New()
	run := &models.TestRun{ID: uuid.New(), ProjectID: rc.ProjectID, Name: "Sprint 1"}
	require.NoError(t, runs.Create(context.Background(), run))
	sameCase := &models.TestCase{ID: uuid.New(), ProjectID: rc.ProjectID, Title: "Login"}
	crossCase := &models.TestCase{ID: uuid.New(), ProjectID: otherProject, Title: "Logout"}
	require.NoError(t, cases.Create(context.Background(), sameCase))
	require.NoError(t, cases.Create(context.Background(), crossCase))

	rc.IDMaps.Set(EntityRuns, 7, run.ID)
	rc.IDMaps.Set(EntityCases, 11, sameCase.ID)
	rc.IDMaps.Set(EntityCases, 12, crossCase.ID)

	summary, err := (&resultImporter{}).Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 2, summary.Skipped)

	require.Len(t, results.created, 1, "the cross-project row is never written")
	assert.Equal(t, sameCase.ID, results.created[0].CaseID)
	assert.Equal(t, "passed", results.created[0].Comment)

	all, err := staging.FetchAll(context.Background(), rc.Job.ID, models.DatasetResults)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Contains(t, all[1].Error, "different projects")
	assert.Contains(t, all[2].Error, "not resolved")
}
