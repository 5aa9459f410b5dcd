package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/config"
	"github.com/caseflow-io/caseflow-engine/pkg/extract"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

// mockImportService implements services.ImportService for handler tests.
type mockImportService struct {
	job        *models.ImportJob
	jobs       []*models.ImportJob
	plan       *models.ImportPlan
	datasets   []*models.DatasetPreview
	dataset    *models.DatasetPreview
	normalized *models.MappingConfig

	createSrc  *extract.Source
	createName string
	configured any
	actionErr  error
	getErr     error
}

func (m *mockImportService) CreateJob(ctx context.Context, projectID uuid.UUID, src *extract.Source, sourceName string) (*models.ImportJob, error) {
	m.createSrc = src
	m.createName = sourceName
	return m.job, nil
}

func (m *mockImportService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.job, nil
}

func (m *mockImportService) ListJobs(ctx context.Context, projectID uuid.UUID) ([]*models.ImportJob, error) {
	return m.jobs, nil
}

func (m *mockImportService) GetPlan(ctx context.Context, jobID uuid.UUID) (*models.ImportPlan, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.plan, nil
}

func (m *mockImportService) GetDatasets(ctx context.Context, jobID uuid.UUID) ([]*models.DatasetPreview, error) {
	return m.datasets, nil
}

func (m *mockImportService) GetDataset(ctx context.Context, jobID uuid.UUID, name string, includeRows bool) (*models.DatasetPreview, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.dataset, nil
}

func (m *mockImportService) Configure(ctx context.Context, jobID uuid.UUID, raw any) (*models.MappingConfig, error) {
	if m.actionErr != nil {
		return nil, m.actionErr
	}
	m.configured = raw
	return m.normalized, nil
}

func (m *mockImportService) Apply(ctx context.Context, jobID uuid.UUID) error   { return m.actionErr }
func (m *mockImportService) Retry(ctx context.Context, jobID uuid.UUID) error   { return m.actionErr }
func (m *mockImportService) Cancel(ctx context.Context, jobID uuid.UUID) error  { return m.actionErr }
func (m *mockImportService) CleanupStaging(ctx context.Context, jobID uuid.UUID) error {
	return m.actionErr
}

func newImportHandler(t *testing.T, svc *mockImportService) *ImportHandler {
	t.Helper()
	cfg := &config.Config{
		Import: config.ImportConfig{UploadDir: t.TempDir()},
	}
	return NewImportHandler(svc, cfg, zap.NewNop())
}

func importsMux(h *ImportHandler) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc { return next })
	return mux
}

func TestImportHandlerCreateMultipart(t *testing.T) {
	projectID := uuid.New()
	svc := &mockImportService{
		job: &models.ImportJob{ID: uuid.New(), ProjectID: projectID, Status: models.JobStatusQueued},
	}
	mux := importsMux(newImportHandler(t, svc))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "export.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(`{"statuses": []}`))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/imports", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, svc.createSrc)
	assert.NotEmpty(t, svc.createSrc.Path, "upload must be spooled to disk")
	assert.Equal(t, int64(len(`{"statuses": []}`)), svc.createSrc.Size)
	assert.Equal(t, "export.json", svc.createName)
}

func TestImportHandlerCreateFromURL(t *testing.T) {
	projectID := uuid.New()
	svc := &mockImportService{
		job: &models.ImportJob{ID: uuid.New(), ProjectID: projectID, Status: models.JobStatusQueued},
	}
	mux := importsMux(newImportHandler(t, svc))

	body := strings.NewReader(`{"url": "https://exports.example.com/project-42.json"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/imports", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, svc.createSrc)
	assert.Equal(t, "https://exports.example.com/project-42.json", svc.createSrc.URL)
	assert.Equal(t, "project-42.json", svc.createName)
}

func TestImportHandlerCreateRejectsEmptyBody(t *testing.T) {
	projectID := uuid.New()
	mux := importsMux(newImportHandler(t, &mockImportService{}))

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+projectID.String()+"/imports",
		strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportHandlerGetNotFound(t *testing.T) {
	svc := &mockImportService{getErr: apperrors.ErrNotFound}
	mux := importsMux(newImportHandler(t, svc))

	req := httptest.NewRequest(http.MethodGet,
		"/api/projects/"+uuid.New().String()+"/imports/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportHandlerGetInvalidJobID(t *testing.T) {
	mux := importsMux(newImportHandler(t, &mockImportService{}))

	req := httptest.NewRequest(http.MethodGet,
		"/api/projects/"+uuid.New().String()+"/imports/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "invalid_job_id", resp["error"])
}

func TestImportHandlerConfigureReturnsNormalized(t *testing.T) {
	svc := &mockImportService{normalized: &models.MappingConfig{}}
	mux := importsMux(newImportHandler(t, svc))

	body := strings.NewReader(`{"statuses": {"1": {"action": "create", "name": "Passed"}}}`)
	req := httptest.NewRequest(http.MethodPut,
		"/api/projects/"+uuid.New().String()+"/imports/"+uuid.New().String()+"/config", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.configured)
	raw, ok := svc.configured.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, raw, "statuses")
}

func TestImportHandlerConfigureNotReady(t *testing.T) {
	svc := &mockImportService{actionErr: apperrors.ErrJobNotReady}
	mux := importsMux(newImportHandler(t, svc))

	req := httptest.NewRequest(http.MethodPut,
		"/api/projects/"+uuid.New().String()+"/imports/"+uuid.New().String()+"/config",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job_not_ready", resp["error"])
}

func TestImportHandlerApplyConfigError(t *testing.T) {
	svc := &mockImportService{
		actionErr: apperrors.NewConfigError("statuses", 3, "mapped target does not exist"),
	}
	mux := importsMux(newImportHandler(t, svc))

	req := httptest.NewRequest(http.MethodPost,
		"/api/projects/"+uuid.New().String()+"/imports/"+uuid.New().String()+"/apply", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_configuration", body["error"])
	assert.Equal(t, "statuses", body["entity"])
	assert.Equal(t, float64(3), body["source_id"])
}

func TestImportHandlerCancelConflict(t *testing.T) {
	svc := &mockImportService{actionErr: apperrors.ErrConflict}
	mux := importsMux(newImportHandler(t, svc))

	req := httptest.NewRequest(http.MethodPost,
		"/api/projects/"+uuid.New().String()+"/imports/"+uuid.New().String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestImportHandlerCleanupStagingAccepted(t *testing.T) {
	svc := &mockImportService{}
	mux := importsMux(newImportHandler(t, svc))

	req := httptest.NewRequest(http.MethodDelete,
		"/api/projects/"+uuid.New().String()+"/imports/"+uuid.New().String()+"/staging", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}
