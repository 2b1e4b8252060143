package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parkerv/shipyard/internal/proxy"
	"github.com/parkerv/shipyard/internal/repository/postgres"
	"github.com/parkerv/shipyard/pkg/config"
	"github.com/parkerv/shipyard/pkg/logger"
)

func main() {
	cfg := config.LoadProxyConfig()
	log := logger.New("proxy", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	handler, err := proxy.New(postgres.New(pool), cfg.StorageBaseURL, log)
	if err != nil {
		log.Error("failed to configure proxy", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Operational endpoints live on a separate listener; every request on
	// the main listener belongs to some deployed site.
	opsMux := http.NewServeMux()
	opsMux.Handle("/metrics", promhttp.Handler())
	opsMux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		checkCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(checkCtx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	opsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 2)
	go func() {
		log.Info("proxy starting", "addr", cfg.Addr, "storage_base", cfg.StorageBaseURL)
		errorCh <- srv.ListenAndServe()
	}()
	go func() {
		log.Info("proxy ops endpoints starting", "addr", cfg.MetricsAddr)
		errorCh <- opsSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("ops shutdown failed", "error", err)
		}
		log.Info("proxy stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
