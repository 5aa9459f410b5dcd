package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/config"
	"github.com/caseflow-io/caseflow-engine/pkg/extract"
	"github.com/caseflow-io/caseflow-engine/pkg/services"
)

// ProjectMiddleware wraps a handler with a project-scoped DB connection.
type ProjectMiddleware func(http.HandlerFunc) http.HandlerFunc

// ImportHandler handles import job HTTP requests.
type ImportHandler struct {
	importService services.ImportService
	cfg           *config.Config
	logger        *zap.Logger
}

// NewImportHandler creates a new import handler.
func NewImportHandler(importService services.ImportService, cfg *config.Config, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{
		importService: importService,
		cfg:           cfg,
		logger:        logger,
	}
}

// RegisterRoutes registers the import handler's routes on the given mux.
func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux, projectMiddleware ProjectMiddleware) {
	mux.HandleFunc("POST /api/projects/{pid}/imports", projectMiddleware(h.Create))
	mux.HandleFunc("GET /api/projects/{pid}/imports", projectMiddleware(h.List))
	mux.HandleFunc("GET /api/projects/{pid}/imports/{jid}", projectMiddleware(h.Get))
	mux.HandleFunc("GET /api/projects/{pid}/imports/{jid}/plan", projectMiddleware(h.GetPlan))
	mux.HandleFunc("GET /api/projects/{pid}/imports/{jid}/datasets", projectMiddleware(h.ListDatasets))
	mux.HandleFunc("GET /api/projects/{pid}/imports/{jid}/datasets/{name}", projectMiddleware(h.GetDataset))
	mux.HandleFunc("PUT /api/projects/{pid}/imports/{jid}/config", projectMiddleware(h.Configure))
	mux.HandleFunc("POST /api/projects/{pid}/imports/{jid}/apply", projectMiddleware(h.Apply))
	mux.HandleFunc("POST /api/projects/{pid}/imports/{jid}/retry", projectMiddleware(h.Retry))
	mux.HandleFunc("POST /api/projects/{pid}/imports/{jid}/cancel", projectMiddleware(h.Cancel))
	mux.HandleFunc("DELETE /api/projects/{pid}/imports/{jid}/staging", projectMiddleware(h.CleanupStaging))
}

// createRequest is the JSON body for URL-backed import creation.
type createRequest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Create handles POST /api/projects/{pid}/imports
// Accepts either a multipart upload (field "file", spooled to the upload
// directory) or a JSON body naming a source URL, and queues extraction.
func (h *ImportHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	if h.cfg.Import.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Import.MaxUploadBytes)
	}

	var src *extract.Source
	var sourceName string

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		file, header, err := r.FormFile("file")
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_upload", "Multipart upload requires a \"file\" field")
			return
		}
		defer file.Close()

		path, size, err := h.spoolUpload(file)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large",
					fmt.Sprintf("Export exceeds the %d byte upload limit", h.cfg.Import.MaxUploadBytes))
				return
			}
			h.logger.Error("Failed to spool export upload", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "upload_failed", "Failed to store export upload")
			return
		}
		src = &extract.Source{Path: path, Size: size}
		sourceName = filepath.Base(header.Filename)

	default:
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Request must be a multipart upload or a JSON body with a source url")
			return
		}
		src = &extract.Source{URL: req.URL}
		sourceName = req.Name
		if sourceName == "" {
			sourceName = filepath.Base(req.URL)
		}
	}

	job, err := h.importService.CreateJob(r.Context(), projectID, src, sourceName)
	if err != nil {
		h.logger.Error("Failed to create import job",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create import job")
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, job); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// spoolUpload copies the upload into the configured directory so extraction
// can re-read it independently of the request lifetime.
func (h *ImportHandler) spoolUpload(file io.Reader) (string, int64, error) {
	dir := h.cfg.Import.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create upload directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "export-*.json")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create spool file: %w", err)
	}

	size, err := io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}
	return tmp.Name(), size, nil
}

// List handles GET /api/projects/{pid}/imports
func (h *ImportHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	jobs, err := h.importService.ListJobs(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to list import jobs",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list import jobs")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"imports": jobs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/projects/{pid}/imports/{jid}
func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.importService.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get import job")
		return
	}

	if err := WriteJSON(w, http.StatusOK, job); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetPlan handles GET /api/projects/{pid}/imports/{jid}/plan
func (h *ImportHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	plan, err := h.importService.GetPlan(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get import plan")
		return
	}

	if err := WriteJSON(w, http.StatusOK, plan); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListDatasets handles GET /api/projects/{pid}/imports/{jid}/datasets
func (h *ImportHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	datasets, err := h.importService.GetDatasets(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list datasets")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"datasets": datasets}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetDataset handles GET /api/projects/{pid}/imports/{jid}/datasets/{name}
// The rows query parameter inlines every staged row of a preserved dataset.
func (h *ImportHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}
	name := r.PathValue("name")

	includeRows, _ := strconv.ParseBool(r.URL.Query().Get("rows"))

	dataset, err := h.importService.GetDataset(r.Context(), jobID, name, includeRows)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get dataset")
		return
	}

	if err := WriteJSON(w, http.StatusOK, dataset); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Configure handles PUT /api/projects/{pid}/imports/{jid}/config
// Normalizes and stores the operator's mapping configuration. Returns the
// normalized form so the client sees exactly what the apply phase will use.
func (h *ImportHandler) Configure(w http.ResponseWriter, r *http.Request) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	var raw any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}

	normalized, err := h.importService.Configure(r.Context(), jobID, raw)
	if err != nil {
		h.writeServiceError(w, err, "Failed to store mapping configuration")
		return
	}

	if err := WriteJSON(w, http.StatusOK, normalized); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Apply handles POST /api/projects/{pid}/imports/{jid}/apply
func (h *ImportHandler) Apply(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.importService.Apply, "Failed to queue apply")
}

// Retry handles POST /api/projects/{pid}/imports/{jid}/retry
func (h *ImportHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.importService.Retry, "Failed to retry import")
}

// Cancel handles POST /api/projects/{pid}/imports/{jid}/cancel
func (h *ImportHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.importService.Cancel, "Failed to cancel import")
}

// CleanupStaging handles DELETE /api/projects/{pid}/imports/{jid}/staging
func (h *ImportHandler) CleanupStaging(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.importService.CleanupStaging, "Failed to clean up staging data")
}

func (h *ImportHandler) jobAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID) error, failMessage string) {
	jobID, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	if err := action(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err, failMessage)
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeServiceError maps service errors onto HTTP responses.
func (h *ImportHandler) writeServiceError(w http.ResponseWriter, err error, failMessage string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Import job or resource not found")
	case errors.Is(err, apperrors.ErrJobNotReady):
		h.writeError(w, http.StatusConflict, "job_not_ready", err.Error())
	case errors.Is(err, apperrors.ErrJobRunning):
		h.writeError(w, http.StatusConflict, "job_running", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", err.Error())
	case apperrors.IsConfigError(err):
		var cfgErr *apperrors.ConfigError
		errors.As(err, &cfgErr)
		if err := ConfigErrorResponse(w, cfgErr); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
	default:
		h.logger.Error(failMessage, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", failMessage)
	}
}

func (h *ImportHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
