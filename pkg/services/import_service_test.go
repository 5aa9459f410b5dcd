package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/config"
	"github.com/caseflow-io/caseflow-engine/pkg/extract"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
	"github.com/caseflow-io/caseflow-engine/pkg/services/importers"
	"github.com/caseflow-io/caseflow-engine/pkg/services/workqueue"
)

type fakeJobs struct {
	jobs     map[uuid.UUID]*models.ImportJob
	configs  map[uuid.UUID]*models.MappingConfig
	plans    map[uuid.UUID]*models.ImportPlan
	datasets map[uuid.UUID][]*models.DatasetSummary
	states   []models.JobStatus
}

var _ repositories.JobRepository = (*fakeJobs)(nil)

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:     make(map[uuid.UUID]*models.ImportJob),
		configs:  make(map[uuid.UUID]*models.MappingConfig),
		plans:    make(map[uuid.UUID]*models.ImportPlan),
		datasets: make(map[uuid.UUID][]*models.DatasetSummary),
	}
}

func (f *fakeJobs) Create(ctx context.Context, job *models.ImportJob) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) GetByID(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ImportJob, error) {
	var out []*models.ImportJob
	for _, job := range f.jobs {
		if job.ProjectID == projectID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobs) UpdateState(ctx context.Context, jobID uuid.UUID, status models.JobStatus, phase models.JobPhase) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.Status = status
	job.Phase = phase
	f.states = append(f.states, status)
	return nil
}

func (f *fakeJobs) SetError(ctx context.Context, jobID uuid.UUID, cause string) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.Status = models.JobStatusFailed
	job.Error = cause
	return nil
}

func (f *fakeJobs) Complete(ctx context.Context, jobID uuid.UUID) error {
	return f.UpdateState(ctx, jobID, models.JobStatusCompleted, models.JobPhaseFinalizing)
}

func (f *fakeJobs) UpdateProgress(ctx context.Context, job *models.ImportJob) error { return nil }

func (f *fakeJobs) AppendActivity(ctx context.Context, jobID uuid.UUID, entry models.ActivityEntry) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return apperrors.ErrNotFound
	}
	job.Activity = append(job.Activity, entry)
	return nil
}

func (f *fakeJobs) SavePlan(ctx context.Context, jobID uuid.UUID, plan *models.ImportPlan, datasets []*models.DatasetSummary) error {
	f.plans[jobID] = plan
	f.datasets[jobID] = datasets
	return nil
}

func (f *fakeJobs) GetPlan(ctx context.Context, jobID uuid.UUID) (*models.ImportPlan, []*models.DatasetSummary, error) {
	plan, ok := f.plans[jobID]
	if !ok {
		return nil, nil, apperrors.ErrNotFound
	}
	return plan, f.datasets[jobID], nil
}

func (f *fakeJobs) SaveConfig(ctx context.Context, jobID uuid.UUID, cfg *models.MappingConfig) error {
	f.configs[jobID] = cfg
	return nil
}

func (f *fakeJobs) GetConfig(ctx context.Context, jobID uuid.UUID) (*models.MappingConfig, error) {
	cfg, ok := f.configs[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cfg, nil
}

type fakeMappings struct{}

var _ repositories.MappingRepository = (*fakeMappings)(nil)

func (f *fakeMappings) Store(ctx context.Context, m *models.EntityMapping) error        { return nil }
func (f *fakeMappings) StoreBatch(ctx context.Context, ms []*models.EntityMapping) error { return nil }
func (f *fakeMappings) Lookup(ctx context.Context, jobID uuid.UUID, entityType string, sourceID int64) (*models.EntityMapping, error) {
	return nil, apperrors.ErrNotFound
}
func (f *fakeMappings) ListByType(ctx context.Context, jobID uuid.UUID, entityType string) ([]*models.EntityMapping, error) {
	return nil, nil
}

// captureQueue records enqueued tasks without running them.
type captureQueue struct {
	tasks []workqueue.Task
}

func (q *captureQueue) Enqueue(task workqueue.Task) {
	q.tasks = append(q.tasks, task)
}

type importServiceFixture struct {
	svc     ImportService
	jobs    *fakeJobs
	staging *trackStaging
	queue   *captureQueue
}

type trackStaging struct {
	memStaging
	resetCalled   bool
	cleanupCalled bool
}

func (s *trackStaging) ResetFailed(ctx context.Context, jobID uuid.UUID) (int64, error) {
	s.resetCalled = true
	return 3, nil
}

func (s *trackStaging) CleanupStaging(ctx context.Context, jobID uuid.UUID) error {
	s.cleanupCalled = true
	return nil
}

func newImportServiceFixture(t *testing.T) *importServiceFixture {
	t.Helper()

	engine, err := importers.NewEngine(zap.NewNop())
	require.NoError(t, err)

	f := &importServiceFixture{
		jobs:    newFakeJobs(),
		staging: &trackStaging{memStaging: memStaging{rows: make(map[string][]string)}},
		queue:   &captureQueue{},
	}
	f.svc = NewImportService(
		nil,
		f.jobs,
		f.staging,
		&fakeMappings{},
		newTestAnalyzer(&f.staging.memStaging, nil, nil),
		engine,
		importers.Catalog{},
		f.queue,
		config.ImportConfig{ApplyChunkSize: 100, ChunkTimeoutSeconds: 10, ProgressIntervalMillis: 100},
		zap.NewNop(),
	)
	return f
}

func (f *importServiceFixture) addJob(status models.JobStatus, phase models.JobPhase) *models.ImportJob {
	job := &models.ImportJob{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		Status:    status,
		Phase:     phase,
	}
	f.jobs.jobs[job.ID] = job
	return job
}

func TestCreateJobQueuesAnalysis(t *testing.T) {
	f := newImportServiceFixture(t)

	job, err := f.svc.CreateJob(context.Background(), uuid.New(), &extract.Source{Path: "/tmp/export.json"}, "export.json")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.JobPhaseUploading, job.Phase)
	assert.Equal(t, "export.json", job.SourceName)

	require.Len(t, f.queue.tasks, 1)
	assert.False(t, f.queue.tasks[0].Bulk(), "analysis is not a bulk task")
}

func TestConfigureRequiresReadyJob(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusRunning, models.JobPhaseAnalyzing)

	_, err := f.svc.Configure(context.Background(), job.ID, map[string]any{})
	assert.ErrorIs(t, err, apperrors.ErrJobNotReady)
}

func TestConfigureNormalizesAndStores(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusReady, models.JobPhaseConfiguring)

	cfg, err := f.svc.Configure(context.Background(), job.ID, map[string]any{
		"statuses": map[string]any{
			"1": map[string]any{"action": "create", "name": "Passed"},
		},
	})
	require.NoError(t, err)
	require.Len(t, cfg.Statuses, 1)
	assert.Equal(t, "Passed", cfg.Statuses[1].Name)
	assert.Same(t, cfg, f.jobs.configs[job.ID])
}

func TestApplyRequiresConfiguration(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusReady, models.JobPhaseConfiguring)

	err := f.svc.Apply(context.Background(), job.ID)
	assert.ErrorIs(t, err, apperrors.ErrJobNotReady)
	assert.Empty(t, f.queue.tasks)
}

func TestApplyQueuesBulkTask(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusReady, models.JobPhaseConfiguring)
	f.jobs.configs[job.ID] = &models.MappingConfig{}

	require.NoError(t, f.svc.Apply(context.Background(), job.ID))

	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, models.JobPhaseImporting, job.Phase)
	require.Len(t, f.queue.tasks, 1)
	assert.True(t, f.queue.tasks[0].Bulk(), "apply is a bulk task")
}

func TestApplyRejectsNonReadyJob(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusCompleted, models.JobPhaseFinalizing)

	err := f.svc.Apply(context.Background(), job.ID)
	assert.ErrorIs(t, err, apperrors.ErrJobNotReady)
}

func TestRetryResetsFailedRows(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusFailed, models.JobPhaseImporting)
	f.jobs.configs[job.ID] = &models.MappingConfig{}

	require.NoError(t, f.svc.Retry(context.Background(), job.ID))
	assert.True(t, f.staging.resetCalled)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.Len(t, f.queue.tasks, 1)
	assert.True(t, f.queue.tasks[0].Bulk())
}

func TestRetryRejectsNonFailedJob(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusReady, models.JobPhaseConfiguring)

	err := f.svc.Retry(context.Background(), job.ID)
	assert.ErrorIs(t, err, apperrors.ErrJobNotReady)
	assert.False(t, f.staging.resetCalled)
}

func TestCancelQueuedJob(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusQueued, models.JobPhaseUploading)

	require.NoError(t, f.svc.Cancel(context.Background(), job.ID))
	assert.Equal(t, models.JobStatusCanceled, job.Status)
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusCompleted, models.JobPhaseFinalizing)

	err := f.svc.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCleanupStagingRequiresTerminalJob(t *testing.T) {
	f := newImportServiceFixture(t)
	running := f.addJob(models.JobStatusRunning, models.JobPhaseImporting)

	err := f.svc.CleanupStaging(context.Background(), running.ID)
	assert.ErrorIs(t, err, apperrors.ErrJobRunning)
	assert.False(t, f.staging.cleanupCalled)

	done := f.addJob(models.JobStatusCompleted, models.JobPhaseFinalizing)
	require.NoError(t, f.svc.CleanupStaging(context.Background(), done.ID))
	assert.True(t, f.staging.cleanupCalled)
}

func TestGetDatasetIncludesRows(t *testing.T) {
	f := newImportServiceFixture(t)
	job := f.addJob(models.JobStatusReady, models.JobPhaseConfiguring)

	f.staging.rows[models.DatasetStatuses] = []string{`{"id": 1, "name": "Passed"}`}
	f.jobs.plans[job.ID] = &models.ImportPlan{}
	f.jobs.datasets[job.ID] = []*models.DatasetSummary{
		{Name: models.DatasetStatuses, RowCount: 1},
	}

	preview, err := f.svc.GetDataset(context.Background(), job.ID, models.DatasetStatuses, true)
	require.NoError(t, err)
	assert.Equal(t, 1, preview.RowCount)
	require.Len(t, preview.AllRows, 1)
	assert.JSONEq(t, `{"id": 1, "name": "Passed"}`, string(preview.AllRows[0]))

	_, err = f.svc.GetDataset(context.Background(), job.ID, "nonexistent", false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
