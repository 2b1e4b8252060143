package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parkerv/shipyard/internal/app/migrate"
	"github.com/parkerv/shipyard/internal/httpx"
	"github.com/parkerv/shipyard/internal/launcher"
	"github.com/parkerv/shipyard/internal/logbus"
	"github.com/parkerv/shipyard/internal/logwriter"
	"github.com/parkerv/shipyard/internal/repository/postgres"
	"github.com/parkerv/shipyard/internal/service/deploy"
	"github.com/parkerv/shipyard/internal/service/logs"
	"github.com/parkerv/shipyard/internal/service/project"
	"github.com/parkerv/shipyard/internal/storage"
	"github.com/parkerv/shipyard/internal/ws"
	"github.com/parkerv/shipyard/pkg/config"
	"github.com/parkerv/shipyard/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	logHub := ws.NewHub()
	logSvc := logs.New(repo, logHub, log)

	store, err := storage.NewStore(cfg.StorageURL, cfg.StorageBucket)
	if err != nil {
		log.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}

	tasks, err := launcher.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to configure agent launcher", "error", err)
		os.Exit(1)
	}
	defer tasks.Close()
	if err := tasks.Ping(ctx); err != nil {
		log.Warn("docker daemon unreachable, deploys will fail until it returns", "error", err)
	}

	projectSvc := project.New(repo, log)
	deploySvc := deploy.New(repo, repo, tasks, store, log, cfg)

	// The writer drains the log queue into the store; broadcasts to live
	// websocket subscribers happen on the same append path.
	bus := logbus.NewClient(cfg.AMQPURL, cfg.LogQueue)
	writer := logwriter.New(bus, logSvc, cfg.WriterGroup, cfg.LogBatchSize, cfg.ConsumerMaxRetry, log)
	go func() {
		if err := writer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("log writer stopped", "error", err)
		}
	}()

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, projectSvc, deploySvc, logSvc, limiter, pool.Ping, cfg.WSLogBuffer)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
