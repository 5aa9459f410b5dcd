package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/config"
	"github.com/caseflow-io/caseflow-engine/pkg/database"
	"github.com/caseflow-io/caseflow-engine/pkg/handlers"
	"github.com/caseflow-io/caseflow-engine/pkg/logging"
	"github.com/caseflow-io/caseflow-engine/pkg/repositories"
	"github.com/caseflow-io/caseflow-engine/pkg/services"
	"github.com/caseflow-io/caseflow-engine/pkg/services/importers"
	"github.com/caseflow-io/caseflow-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// golang-migrate needs database/sql rather than pgx's native interface.
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	// Repositories
	projectRepo := repositories.NewProjectRepository()
	jobRepo := repositories.NewJobRepository()
	stagingRepo := repositories.NewStagingRepository()
	mappingRepo := repositories.NewMappingRepository()
	catalog := importers.Catalog{
		Workflows:    repositories.NewWorkflowRepository(),
		Statuses:     repositories.NewStatusRepository(),
		Roles:        repositories.NewRoleRepository(),
		Groups:       repositories.NewGroupRepository(),
		Tags:         repositories.NewTagRepository(),
		Users:        repositories.NewUserRepository(),
		ConfigGroups: repositories.NewConfigGroupRepository(),
		Templates:    repositories.NewTemplateRepository(),
		Fields:       repositories.NewCaseFieldRepository(),
		Cases:        repositories.NewCaseRepository(),
		Runs:         repositories.NewRunRepository(),
		Results:      repositories.NewResultRepository(),
		IssueLinks:   repositories.NewIssueLinkRepository(),
	}

	// Services
	engine, err := importers.NewEngine(logger)
	if err != nil {
		logger.Fatal("Failed to build apply engine", zap.Error(err))
	}
	analyzer := services.NewAnalyzerService(
		stagingRepo,
		catalog.Workflows, catalog.Statuses, catalog.Roles, catalog.Groups,
		catalog.Tags, catalog.Users, catalog.ConfigGroups, catalog.Templates,
		catalog.Fields,
		logger)
	queue := workqueue.New(logger.Named("workqueue"))
	projectService := services.NewProjectService(projectRepo, logger)
	importService := services.NewImportService(
		db, jobRepo, stagingRepo, mappingRepo,
		analyzer, engine, catalog, queue, cfg.Import, logger)

	// HTTP surface
	mux := http.NewServeMux()
	projectMiddleware := handlers.ProjectMiddleware(database.WithProjectContext(db, logger))

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewProjectsHandler(projectService, logger).RegisterRoutes(mux, projectMiddleware)
	handlers.NewImportHandler(importService, cfg, logger).RegisterRoutes(mux, projectMiddleware)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting caseflow-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	// Let in-flight import tasks finish staging their state before the pool
	// closes underneath them.
	if err := queue.Wait(shutdownCtx); err != nil {
		logger.Warn("Work queue did not drain before shutdown deadline", zap.Error(err))
	}
}
