package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/sitelift/sitelift/internal/app/migrate"
	"github.com/sitelift/sitelift/internal/blob"
	"github.com/sitelift/sitelift/internal/events"
	"github.com/sitelift/sitelift/internal/httpx"
	"github.com/sitelift/sitelift/internal/preview"
	"github.com/sitelift/sitelift/internal/queue"
	"github.com/sitelift/sitelift/internal/repository/postgres"
	"github.com/sitelift/sitelift/internal/secret"
	"github.com/sitelift/sitelift/internal/service/job"
	"github.com/sitelift/sitelift/internal/service/session"
	"github.com/sitelift/sitelift/internal/ws"
	"github.com/sitelift/sitelift/pkg/config"
	"github.com/sitelift/sitelift/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := logger.New("api", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, log *slog.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("configure migrations: %w", err)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		return err
	}
	if err := runner.Ensure(ctx); err != nil {
		return err
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	eventSvc := events.New(repo, hub, log)

	blobs, err := blob.New(cfg.ArtifactRoot)
	if err != nil {
		return fmt.Errorf("init artifact store at %s: %w", cfg.ArtifactRoot, err)
	}

	q, err := queue.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.QueueName)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	defer q.Close()

	secrets, err := secret.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SecretCipherKey, cfg.SessionTTL, cfg.JobSecretTTL)
	if err != nil {
		return fmt.Errorf("init secret store: %w", err)
	}
	defer secrets.Close()

	leaseClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer leaseClient.Close()
	previewSvc := preview.New(blobs, preview.NewRedisLeaseStore(leaseClient), log,
		cfg.PreviewSigningKey, cfg.PreviewBaseURL, cfg.PreviewTTL)

	sessionSvc := session.New(secrets, log)
	jobSvc := job.New(repo, eventSvc, q, blobs, previewSvc, log, cfg)

	router := httpx.NewRouter(log, sessionSvc, jobSvc, eventSvc, buildLimiter(cfg, log), pool.Ping)
	defer router.Close()

	return serve(ctx, cfg.Addr, router, log)
}

// buildLimiter prefers the shared Redis limiter and falls back to the
// in-process one when Redis is absent or unreachable.
func buildLimiter(cfg config.APIConfig, log *slog.Logger) httpx.RateLimiter {
	addr := strings.TrimSpace(cfg.RateLimitRedisAddr)
	if addr == "" {
		return httpx.NewMemoryRateLimiter()
	}
	limiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
	if err != nil {
		log.Warn("redis rate limiter unavailable, using in-memory limiter", "error", err)
		return httpx.NewMemoryRateLimiter()
	}
	return limiter
}

func serve(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		log.Info("api stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
