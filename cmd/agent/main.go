package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parkerv/shipyard/internal/agent"
	"github.com/parkerv/shipyard/internal/logbus"
	"github.com/parkerv/shipyard/internal/repository/postgres"
	"github.com/parkerv/shipyard/internal/storage"
	"github.com/parkerv/shipyard/internal/workspace"
	"github.com/parkerv/shipyard/pkg/config"
	"github.com/parkerv/shipyard/pkg/logger"
)

// statusStore adapts the project repository to the agent's narrow status
// write.
type statusStore struct {
	repo *postgres.Repository
}

func (s statusStore) SetStatus(ctx context.Context, deploymentID, status string) error {
	_, err := s.repo.UpdateProjectStatus(ctx, deploymentID, status)
	return err
}

func main() {
	cfg := config.LoadAgentConfig()
	log := logger.New("agent", slog.LevelInfo)

	if cfg.DeploymentID == "" {
		log.Error("DEPLOYMENT_ID is required")
		os.Exit(1)
	}
	if cfg.GitRepo == "" {
		log.Error("GIT_REPO is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.BuildTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store, err := storage.NewStore(cfg.StorageURL, cfg.StorageBucket)
	if err != nil {
		log.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}

	ws, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err)
		os.Exit(1)
	}

	a := &agent.Agent{
		DeploymentID: cfg.DeploymentID,
		RepoURL:      cfg.GitRepo,
		BuildCommand: cfg.BuildCommand,
		OutputDir:    cfg.OutputDir,
		Workspace:    ws,
		Bus:          logbus.NewClient(cfg.AMQPURL, cfg.LogQueue),
		Store:        store,
		Status:       statusStore{repo: postgres.New(pool)},
		Logger:       log,
	}

	log.Info("build starting", "deployment_id", cfg.DeploymentID, "repo", cfg.GitRepo)
	if err := a.Run(ctx); err != nil {
		log.Error("build failed", "deployment_id", cfg.DeploymentID, "error", err)
		os.Exit(1)
	}
	log.Info("build finished", "deployment_id", cfg.DeploymentID)
}
