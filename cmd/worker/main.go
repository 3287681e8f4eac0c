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

	"github.com/sitelift/sitelift/internal/blob"
	"github.com/sitelift/sitelift/internal/evaluation"
	"github.com/sitelift/sitelift/internal/events"
	"github.com/sitelift/sitelift/internal/generate"
	"github.com/sitelift/sitelift/internal/github"
	"github.com/sitelift/sitelift/internal/queue"
	"github.com/sitelift/sitelift/internal/repository/postgres"
	"github.com/sitelift/sitelift/internal/secret"
	"github.com/sitelift/sitelift/internal/worker"
	"github.com/sitelift/sitelift/internal/workspace"
	"github.com/sitelift/sitelift/pkg/config"
	"github.com/sitelift/sitelift/pkg/logger"
)

func main() {
	cfg := config.LoadWorkerConfig()
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := logger.New("worker", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	eventSvc := events.New(repo, nil, log)

	q, err := queue.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.QueueName)
	if err != nil {
		log.Error("queue init failed", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	secrets, err := secret.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SecretCipherKey, cfg.SessionTTL, cfg.JobSecretTTL)
	if err != nil {
		log.Error("secret store init failed", "error", err)
		os.Exit(1)
	}
	defer secrets.Close()

	blobs, err := blob.New(cfg.ArtifactRoot)
	if err != nil {
		log.Error("artifact store init failed", "error", err, "root", cfg.ArtifactRoot)
		os.Exit(1)
	}

	workspaces, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		log.Error("workspace init failed", "error", err, "root", cfg.WorkspaceRoot)
		os.Exit(1)
	}

	generator := generate.New(log, cfg.RequestTimeout, cfg.MaxRetries)
	provisioner := github.New(log, cfg.GitHubAPIBaseURL, cfg.RequestTimeout, cfg.MaxRetries)
	notifier := evaluation.New(log, cfg.EvaluationTimeout, cfg.MaxRetries)

	w := worker.New(repo, eventSvc, q, secrets, generator, provisioner, notifier,
		workspaces, blobs, cfg, log)

	// Liveness and metrics only; no job traffic lands here.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker metrics server starting", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	log.Info("worker starting", "queue", cfg.QueueName)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}
	log.Info("worker stopped")
}
