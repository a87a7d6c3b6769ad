// Package app assembles the services shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"net/http"

	"district-insights/internal/config"
	"district-insights/internal/dataset"
	"district-insights/internal/predictor"
	"district-insights/internal/repository"
	"district-insights/internal/services"
	"district-insights/pkg/database"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// DatabaseSource selects the district_scores table as the dataset source
const DatabaseSource = "database"

// App holds the wired services of one process
type App struct {
	Config      *config.Config
	DB          *database.PostgresDB
	Repo        repository.DistrictRepository
	Rows        services.RowProvider
	Explorer    *services.ExplorerService
	Adjustments *services.AdjustmentService
	Stats       *services.StatisticsService
	Sessions    *services.SessionStore

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// New connects the optional database and builds every service from cfg
func New(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*App, error) {
	a := &App{Config: cfg, logger: logger, metrics: metricsCollector}

	if cfg.Database.Enabled() {
		db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		a.Repo = repository.NewDistrictRepository(db, logger, metricsCollector)
		a.Stats = services.NewStatisticsService(a.Repo, logger, metricsCollector)
	}

	if cfg.Dataset.Source == DatabaseSource {
		a.Rows = services.NewRepositoryRows(a.Repo, cfg.Dataset.EntityField)
	} else {
		src, err := dataset.ParseSource(cfg.Dataset.Source, &http.Client{Timeout: cfg.Backend.Timeout})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Rows = services.NewCSVRows(src, cfg.Dataset.EntityField, logger, metricsCollector)
	}

	a.Explorer = services.NewExplorerService(a.Rows, cfg.Dataset.PageSize, logger, metricsCollector)
	a.Adjustments = services.NewAdjustmentService(a.Explorer, a.Repo, logger, metricsCollector)
	a.Sessions = services.NewSessionStore(cfg.Server.SessionTTL, a.NewClient, logger, metricsCollector)
	a.Sessions.SetLimit(cfg.Server.MaxSessions)

	logger.Info(ctx, "[APP_READY] Services initialized", logging.Fields{
		"dataset_source": cfg.Dataset.Source,
		"database":       cfg.Database.Enabled(),
		"backend_url":    cfg.Backend.BaseURL,
	})
	return a, nil
}

// NewClient creates a prediction backend client with its own cookie jar
func (a *App) NewClient() (predictor.Service, error) {
	return predictor.NewClient(a.Config.Backend.BaseURL, a.Config.Backend.Timeout, nil, a.logger, a.metrics)
}

// NewSession starts a session outside the session store, for one-shot CLI use
func (a *App) NewSession(id string) (*services.Session, error) {
	client, err := a.NewClient()
	if err != nil {
		return nil, err
	}
	return services.NewSession(id, client, a.metrics), nil
}

// HealthCheck reports database reachability when one is configured
func (a *App) HealthCheck(ctx context.Context) error {
	if a.Repo == nil {
		return nil
	}
	return a.Repo.HealthCheck(ctx)
}

// Close releases the database pool
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
