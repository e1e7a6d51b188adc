// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/riftlab/matchforge/internal/api"
	"github.com/riftlab/matchforge/internal/config"
	"github.com/riftlab/matchforge/internal/logging"
	"github.com/riftlab/matchforge/internal/pipeline"
	"github.com/riftlab/matchforge/internal/riot"
	"github.com/riftlab/matchforge/internal/storage/memory"
	"github.com/riftlab/matchforge/internal/storage/postgres"
)

// App holds the shared, long-lived services: logger, repository, remote
// client and the operational HTTP listener. Initialized once at startup
// and handed to the commands that need it.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger
	Repo   pipeline.Repository
	Client pipeline.RemoteClient

	server *api.Server
}

// New builds the App from configuration, failing fast if any critical
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var repo pipeline.Repository
	if cfg.DB.DSN == "memory" {
		logger.Info("using in-memory repository; state will not survive restarts")
		repo = memory.New(nil)
	} else {
		logger.Info("connecting to postgres")
		repo, err = postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
	}

	client := riot.New(riot.Config{
		APIKey:            cfg.Riot.APIKey,
		Region:            cfg.Crawl.Region,
		RoutingRegion:     cfg.Crawl.RoutingRegion,
		RequestsPerSecond: cfg.Riot.RequestsPerSecond,
		Burst:             cfg.Riot.Burst,
		Timeout:           cfg.Riot.Timeout,
	}, logger)

	a := &App{
		Cfg:    cfg,
		Logger: logger,
		Repo:   repo,
		Client: client,
	}
	if cfg.Server.Port > 0 {
		a.server = api.New(cfg.Server.Port, repo, logger)
		a.server.Start()
	}
	return a, nil
}

// Close tears down services in reverse initialization order.
func (a *App) Close(ctx context.Context) {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.Logger.Warn("metrics listener shutdown", zap.Error(err))
		}
	}
	a.Repo.Close()
	// Best effort: logging itself may be what is failing.
	_ = a.Logger.Sync()
}
