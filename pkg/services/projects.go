package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/models"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
)

// ProjectService defines the interface for project operations.
type ProjectService interface {
	// Register creates or renames the project with the given id. Idempotent.
	Register(ctx context.Context, id uuid.UUID, name string) (*models.Project, error)

	// GetByID returns a project by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

type projectService struct {
	projects repositories.ProjectRepository
	logger   *zap.Logger
}

// NewProjectService creates a new project service.
func NewProjectService(projects repositories.ProjectRepository, logger *zap.Logger) ProjectService {
	return &projectService{projects: projects, logger: logger}
}

func (s *projectService) Register(ctx context.Context, id uuid.UUID, name string) (*models.Project, error) {
	now := time.Now()
	project := &models.Project{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to register project: %w", err)
	}

	s.logger.Info("Project registered",
		zap.String("project_id", id.String()),
		zap.String("name", name))
	return project, nil
}

func (s *projectService) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return s.projects.Get(ctx, id)
}

var _ ProjectService = (*projectService)(nil)
