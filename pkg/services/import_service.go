package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/config"
	"github.com/caseflow-io/caseflow-engine/pkg/database"
	"github.com/caseflow-io/caseflow-engine/pkg/extract"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
	"github.com/caseflow-io/caseflow-engine/pkg/services/importers"
	"github.com/caseflow-io/caseflow-engine/pkg/services/workqueue"
)

// preservedDatasets names the datasets whose full rows are staged durably.
// Everything else only contributes summaries and samples.
var preservedDatasets = []string{
	models.DatasetWorkflows,
	models.DatasetStatuses,
	models.DatasetRoles,
	models.DatasetGroups,
	models.DatasetTags,
	models.DatasetUsers,
	models.DatasetConfigurations,
	models.DatasetTemplates,
	models.DatasetTemplateFields,
	models.DatasetCaseFields,
	models.DatasetCases,
	models.DatasetRuns,
	models.DatasetResults,
	models.DatasetIssues,
}

// ImportService drives the import job lifecycle: extraction and analysis on
// upload, operator configuration, and the transactional apply phase.
type ImportService interface {
	// CreateJob registers a new job for an export source and queues its
	// extraction.
	CreateJob(ctx context.Context, projectID uuid.UUID, src *extract.Source, sourceName string) (*models.ImportJob, error)

	GetJob(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error)
	ListJobs(ctx context.Context, projectID uuid.UUID) ([]*models.ImportJob, error)

	// GetPlan returns the analyzer's plan for a job that reached ready.
	GetPlan(ctx context.Context, jobID uuid.UUID) (*models.ImportPlan, error)

	// GetDatasets returns previews of every extracted dataset.
	GetDatasets(ctx context.Context, jobID uuid.UUID) ([]*models.DatasetPreview, error)

	// GetDataset returns one dataset preview, optionally with every staged
	// row inlined.
	GetDataset(ctx context.Context, jobID uuid.UUID, name string, includeRows bool) (*models.DatasetPreview, error)

	// Configure normalizes and stores the operator's mapping configuration.
	Configure(ctx context.Context, jobID uuid.UUID, raw any) (*models.MappingConfig, error)

	// Apply queues the transactional apply phase for a configured job.
	Apply(ctx context.Context, jobID uuid.UUID) error

	// Retry re-queues the apply phase for a failed job, resetting failed
	// staged rows first.
	Retry(ctx context.Context, jobID uuid.UUID) error

	// Cancel stops a queued or running job.
	Cancel(ctx context.Context, jobID uuid.UUID) error

	// CleanupStaging drops a terminal job's staged rows and mappings.
	CleanupStaging(ctx context.Context, jobID uuid.UUID) error
}

type importService struct {
	db       *database.DB
	jobs     repositories.JobRepository
	staging  repositories.StagingRepository
	mappings repositories.MappingRepository
	analyzer AnalyzerService
	engine   *importers.Engine
	catalog  importers.Catalog
	queue    workqueue.TaskEnqueuer
	cfg      config.ImportConfig
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewImportService creates the import job orchestrator.
func NewImportService(
	db *database.DB,
	jobs repositories.JobRepository,
	staging repositories.StagingRepository,
	mappings repositories.MappingRepository,
	analyzer AnalyzerService,
	engine *importers.Engine,
	catalog importers.Catalog,
	queue workqueue.TaskEnqueuer,
	cfg config.ImportConfig,
	logger *zap.Logger,
) ImportService {
	return &importService{
		db:       db,
		jobs:     jobs,
		staging:  staging,
		mappings: mappings,
		analyzer: analyzer,
		engine:   engine,
		catalog:  catalog,
		queue:    queue,
		cfg:      cfg,
		logger:   logger.Named("import"),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

var _ ImportService = (*importService)(nil)

func (s *importService) CreateJob(ctx context.Context, projectID uuid.UUID, src *extract.Source, sourceName string) (*models.ImportJob, error) {
	job := &models.ImportJob{
		ID:         uuid.New(),
		ProjectID:  projectID,
		Status:     models.JobStatusQueued,
		Phase:      models.JobPhaseUploading,
		SourceName: sourceName,
		SourcePath: src.Path,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	s.queue.Enqueue(&analyzeTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("analyze import %s", job.ID), false),
		svc:      s,
		job:      job,
		src:      src,
	})
	return job, nil
}

func (s *importService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	return s.jobs.GetByID(ctx, jobID)
}

func (s *importService) ListJobs(ctx context.Context, projectID uuid.UUID) ([]*models.ImportJob, error) {
	return s.jobs.ListByProject(ctx, projectID)
}

func (s *importService) GetPlan(ctx context.Context, jobID uuid.UUID) (*models.ImportPlan, error) {
	plan, _, err := s.jobs.GetPlan(ctx, jobID)
	return plan, err
}

func (s *importService) GetDatasets(ctx context.Context, jobID uuid.UUID) ([]*models.DatasetPreview, error) {
	_, datasets, err := s.jobs.GetPlan(ctx, jobID)
	if err != nil {
		return nil, err
	}
	previews := make([]*models.DatasetPreview, 0, len(datasets))
	for _, ds := range datasets {
		previews = append(previews, models.PreviewFromSummary(jobID.String(), ds))
	}
	return previews, nil
}

func (s *importService) GetDataset(ctx context.Context, jobID uuid.UUID, name string, includeRows bool) (*models.DatasetPreview, error) {
	_, datasets, err := s.jobs.GetPlan(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, ds := range datasets {
		if ds.Name != name {
			continue
		}
		preview := models.PreviewFromSummary(jobID.String(), ds)
		if includeRows {
			rows, err := s.staging.FetchAll(ctx, jobID, name)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				preview.AllRows = append(preview.AllRows, row.Data)
			}
		}
		return preview, nil
	}
	return nil, fmt.Errorf("%w: dataset %s", apperrors.ErrNotFound, name)
}

func (s *importService) Configure(ctx context.Context, jobID uuid.UUID, raw any) (*models.MappingConfig, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.CanConfigure() {
		return nil, fmt.Errorf("%w: job is %s", apperrors.ErrJobNotReady, job.Status)
	}

	cfg := NormalizeMappingConfig(raw)
	if err := s.jobs.SaveConfig(ctx, jobID, cfg); err != nil {
		return nil, fmt.Errorf("failed to save mapping config: %w", err)
	}
	return cfg, nil
}

func (s *importService) Apply(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusReady {
		return fmt.Errorf("%w: job is %s", apperrors.ErrJobNotReady, job.Status)
	}
	if _, err := s.jobs.GetConfig(ctx, jobID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: no mapping configuration", apperrors.ErrJobNotReady)
		}
		return err
	}

	if err := s.jobs.UpdateState(ctx, jobID, models.JobStatusRunning, models.JobPhaseImporting); err != nil {
		return err
	}
	s.enqueueApply(job)
	return nil
}

func (s *importService) Retry(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusFailed {
		return fmt.Errorf("%w: only failed jobs can be retried, job is %s", apperrors.ErrJobNotReady, job.Status)
	}

	reset, err := s.staging.ResetFailed(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to reset failed rows: %w", err)
	}
	s.logger.Info("reset failed rows for retry",
		zap.String("job_id", jobID.String()), zap.Int64("rows", reset))
	if err := s.jobs.UpdateState(ctx, jobID, models.JobStatusRunning, models.JobPhaseImporting); err != nil {
		return err
	}
	s.enqueueApply(job)
	return nil
}

func (s *importService) enqueueApply(job *models.ImportJob) {
	s.queue.Enqueue(&applyTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("apply import %s", job.ID), true),
		svc:      s,
		job:      job,
	})
}

func (s *importService) Cancel(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job already %s", apperrors.ErrConflict, job.Status)
	}

	s.mu.Lock()
	cancel, running := s.cancels[jobID]
	s.mu.Unlock()

	if running {
		// The task observes the cancellation and records the canceled
		// state itself.
		cancel()
		return nil
	}
	return s.jobs.UpdateState(ctx, jobID, models.JobStatusCanceled, job.Phase)
}

func (s *importService) CleanupStaging(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job is still %s", apperrors.ErrJobRunning, job.Status)
	}
	return s.staging.CleanupStaging(ctx, jobID)
}

// registerCancel installs a per-job cancel hook and returns a derived context
// plus a cleanup that removes the hook.
func (s *importService) registerCancel(ctx context.Context, jobID uuid.UUID) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
		cancel()
	}
}

// analyzeTask extracts the export, stages preserved datasets and builds the
// mapping plan. It runs off the queue's background context, so it acquires
// its own project scope.
type analyzeTask struct {
	workqueue.BaseTask
	svc *importService
	job *models.ImportJob
	src *extract.Source
}

func (t *analyzeTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	s := t.svc

	scope, err := s.db.WithProject(ctx, t.job.ProjectID)
	if err != nil {
		return err
	}
	defer scope.Close()
	ctx = database.SetProjectScope(ctx, scope)

	ctx, done := s.registerCancel(ctx, t.job.ID)
	defer done()

	if err := t.run(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, apperrors.ErrCanceled) {
			s.logger.Info("import analysis canceled", zap.String("job_id", t.job.ID.String()))
			return s.jobs.UpdateState(context.WithoutCancel(ctx), t.job.ID, models.JobStatusCanceled, models.JobPhaseAnalyzing)
		}
		s.logger.Error("import analysis failed", zap.String("job_id", t.job.ID.String()), zap.Error(err))
		if setErr := s.jobs.SetError(context.WithoutCancel(ctx), t.job.ID, err.Error()); setErr != nil {
			s.logger.Error("failed to record job error", zap.Error(setErr))
		}
		return err
	}
	return nil
}

func (t *analyzeTask) run(ctx context.Context) error {
	s := t.svc
	jobID := t.job.ID

	if err := s.jobs.UpdateState(ctx, jobID, models.JobStatusRunning, models.JobPhaseUploading); err != nil {
		return err
	}

	extractor := extract.New(extract.Options{
		SampleRowLimit:   s.cfg.SampleRowLimit,
		StageBatchSize:   s.cfg.StageBatchSize,
		PreserveDatasets: preservedDatasets,
		Sink:             &jobSink{staging: s.staging, jobID: jobID},
		OnByteProgress: func(p extract.ByteProgress) {
			s.logger.Debug("extraction progress",
				zap.String("job_id", jobID.String()),
				zap.Int("percent", p.Percent),
				zap.Int64("bytes_read", p.BytesRead),
				zap.Duration("estimated_left", p.EstimatedLeft))
		},
	}, s.logger)

	result, err := extractor.Run(ctx, t.src)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	if err := s.jobs.UpdateState(ctx, jobID, models.JobStatusRunning, models.JobPhaseAnalyzing); err != nil {
		return err
	}

	plan, err := s.analyzer.BuildPlan(ctx, t.job.ProjectID, jobID, result.Datasets)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	if err := s.jobs.SavePlan(ctx, jobID, plan, result.Datasets); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	t.job.TotalRows = result.Meta.TotalRows
	if err := s.jobs.UpdateProgress(ctx, t.job); err != nil {
		return err
	}
	if err := s.jobs.AppendActivity(ctx, jobID, models.ActivityEntry{
		Timestamp: time.Now().UTC(),
		Message: fmt.Sprintf("extracted %d rows across %d datasets, %d staged",
			result.Meta.TotalRows, result.Meta.Datasets, result.Meta.StagedRows),
	}); err != nil {
		return err
	}

	return s.jobs.UpdateState(ctx, jobID, models.JobStatusReady, models.JobPhaseConfiguring)
}

// jobSink binds a job id to the staging repository so the extractor can stay
// unaware of jobs.
type jobSink struct {
	staging repositories.StagingRepository
	jobID   uuid.UUID
}

var _ extract.StagingSink = (*jobSink)(nil)

func (s *jobSink) StageBatch(ctx context.Context, dataset string, rows []models.StageRow) error {
	return s.staging.StageBatch(ctx, s.jobID, dataset, rows)
}

// applyTask runs the transactional apply phase. It is a bulk task: the queue
// never runs two of them concurrently.
type applyTask struct {
	workqueue.BaseTask
	svc *importService
	job *models.ImportJob
}

func (t *applyTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	s := t.svc

	scope, err := s.db.WithProject(ctx, t.job.ProjectID)
	if err != nil {
		return err
	}
	defer scope.Close()
	ctx = database.SetProjectScope(ctx, scope)

	ctx, done := s.registerCancel(ctx, t.job.ID)
	defer done()

	if err := t.run(ctx, scope); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, apperrors.ErrCanceled) {
			s.logger.Info("import apply canceled", zap.String("job_id", t.job.ID.String()))
			return s.jobs.UpdateState(context.WithoutCancel(ctx), t.job.ID, models.JobStatusCanceled, models.JobPhaseImporting)
		}
		s.logger.Error("import apply failed", zap.String("job_id", t.job.ID.String()), zap.Error(err))
		if setErr := s.jobs.SetError(context.WithoutCancel(ctx), t.job.ID, err.Error()); setErr != nil {
			s.logger.Error("failed to record job error", zap.Error(setErr))
		}
		return err
	}
	return nil
}

func (t *applyTask) run(ctx context.Context, scope *database.ProjectScope) error {
	s := t.svc
	jobID := t.job.ID

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	cfg, err := s.jobs.GetConfig(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load mapping config: %w", err)
	}

	idMaps, err := t.preloadMappings(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	if job.Progress == nil {
		job.Progress = make(map[string]models.EntityProgress)
	}

	rc := &importers.RunContext{
		Job:          job,
		ProjectID:    job.ProjectID,
		Config:       cfg,
		Scope:        scope,
		IDMaps:       idMaps,
		Names:        importers.NewNameCache(),
		Staging:      s.staging,
		Mappings:     s.mappings,
		Catalog:      s.catalog,
		ChunkSize:    s.cfg.ApplyChunkSize,
		ChunkTimeout: s.cfg.ChunkTimeout(),
		NewReporter: func(entity string, total int) importers.Reporter {
			job.CurrentEntity = entity
			return NewProgressReporter(total, s.cfg.ProgressInterval(), func(processed, total int) {
				t.reportProgress(ctx, job, entity, processed, total, start)
			})
		},
		OnEntityDone: func(summary importers.EntitySummary) {
			job.Progress[summary.Entity] = models.EntityProgress{
				Total:   summary.Total,
				Created: summary.Created,
				Mapped:  summary.Mapped,
			}
			job.SkippedRows += summary.Skipped
			if err := s.jobs.AppendActivity(ctx, jobID, models.ActivityEntry{
				Timestamp: time.Now().UTC(),
				Entity:    summary.Entity,
				Summary: fmt.Sprintf("%d total, %d created, %d mapped, %d skipped",
					summary.Total, summary.Created, summary.Mapped, summary.Skipped),
			}); err != nil {
				s.logger.Warn("failed to append activity", zap.Error(err))
			}
		},
	}

	if _, err := s.engine.Run(ctx, rc); err != nil {
		return err
	}

	if err := s.jobs.UpdateState(ctx, jobID, models.JobStatusRunning, models.JobPhaseFinalizing); err != nil {
		return err
	}

	total, unprocessed, err := s.staging.CountRows(ctx, jobID)
	if err != nil {
		return err
	}
	failed, err := s.staging.CountFailed(ctx, jobID)
	if err != nil {
		return err
	}

	job.ProcessedRows = total - unprocessed - failed
	job.ErrorRows = failed
	job.CurrentEntity = ""
	job.RowsPerSecond = nil
	job.EstimatedSecondsLeft = nil
	if err := s.jobs.UpdateProgress(ctx, job); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("apply finished with %d failed rows", failed)
	}
	return s.jobs.Complete(ctx, jobID)
}

// preloadMappings seeds the session ID maps from mappings persisted by
// earlier apply runs so retries resolve previously created entities instead
// of recreating them.
func (t *applyTask) preloadMappings(ctx context.Context) (*importers.IDMaps, error) {
	idMaps := importers.NewIDMaps()
	for _, entity := range t.svc.engine.Order() {
		stored, err := t.svc.mappings.ListByType(ctx, t.job.ID, entity)
		if err != nil {
			return nil, err
		}
		for _, m := range stored {
			if m.TargetID != nil {
				idMaps.Set(entity, m.SourceID, *m.TargetID)
			}
		}
	}
	return idMaps, nil
}

func (t *applyTask) reportProgress(ctx context.Context, job *models.ImportJob, entity string, processed, total int, start time.Time) {
	s := t.svc

	job.CurrentEntity = entity
	job.ProcessedRows = processed
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 && processed > 0 {
		rate := float64(processed) / elapsed
		job.RowsPerSecond = &rate
		if total > processed && rate > 0 {
			left := int64(float64(total-processed) / rate)
			job.EstimatedSecondsLeft = &left
		}
	}
	if err := s.jobs.UpdateProgress(ctx, job); err != nil {
		s.logger.Warn("failed to update progress", zap.Error(err))
	}
}
