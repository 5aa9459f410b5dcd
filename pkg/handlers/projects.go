package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/services"
)

// ProjectsHandler handles project-related HTTP requests.
type ProjectsHandler struct {
	projectService services.ProjectService
	logger         *zap.Logger
}

// NewProjectsHandler creates a new projects handler.
func NewProjectsHandler(projectService services.ProjectService, logger *zap.Logger) *ProjectsHandler {
	return &ProjectsHandler{projectService: projectService, logger: logger}
}

// RegisterRoutes registers the projects handler's routes on the given mux.
func (h *ProjectsHandler) RegisterRoutes(mux *http.ServeMux, projectMiddleware ProjectMiddleware) {
	mux.HandleFunc("PUT /api/projects/{pid}", projectMiddleware(h.Register))
	mux.HandleFunc("GET /api/projects/{pid}", projectMiddleware(h.Get))
}

type registerProjectRequest struct {
	Name string `json:"name"`
}

// Register handles PUT /api/projects/{pid}
// Creates the project if it does not exist yet, renames it otherwise.
func (h *ProjectsHandler) Register(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req registerProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must name the project"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	project, err := h.projectService.Register(r.Context(), projectID, req.Name)
	if err != nil {
		h.logger.Error("Failed to register project",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to register project"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, project); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/projects/{pid}
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	project, err := h.projectService.GetByID(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Project not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to get project",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to get project"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, project); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
