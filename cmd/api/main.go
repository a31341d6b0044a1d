package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/miracsucu4417/image-processing-service/internal/cache"
	"github.com/miracsucu4417/image-processing-service/internal/config"
	"github.com/miracsucu4417/image-processing-service/internal/database"
	"github.com/miracsucu4417/image-processing-service/internal/events"
	"github.com/miracsucu4417/image-processing-service/internal/handlers"
	"github.com/miracsucu4417/image-processing-service/internal/jobs"
	"github.com/miracsucu4417/image-processing-service/internal/log"
	"github.com/miracsucu4417/image-processing-service/internal/metrics"
	"github.com/miracsucu4417/image-processing-service/internal/quota"
	"github.com/miracsucu4417/image-processing-service/internal/repository"
	"github.com/miracsucu4417/image-processing-service/internal/security"
	"github.com/miracsucu4417/image-processing-service/internal/server"
	"github.com/miracsucu4417/image-processing-service/internal/service"
	"github.com/miracsucu4417/image-processing-service/internal/storage"
	"github.com/miracsucu4417/image-processing-service/internal/transform"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:          "api",
		Short:        "Image processing HTTP API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and housekeeping jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(op func(context.Context, *pgxpool.Pool) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.NewPostgresPool(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()
			return op(cmd.Context(), pool)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply pending migrations", RunE: run(database.Migrate)},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", RunE: run(database.Rollback)},
		&cobra.Command{Use: "status", Short: "Print migration status", RunE: run(database.Status)},
	)
	return cmd
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbPool.Close()

	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, dbPool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis, "image-api")
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	objectStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure bucket failed")
	}

	loc, err := cfg.Quota.Location()
	if err != nil {
		return err
	}

	users := repository.NewUserRepository(dbPool, cfg.Postgres.QueryTimeout)
	images := repository.NewImageRepository(dbPool, cfg.Postgres.QueryTimeout)
	quotas := repository.NewQuotaRepository(dbPool, cfg.Postgres.QueryTimeout)

	gate := quota.NewGate(quotas, cfg.Quota.DailyLimit, loc)
	pipeline := transform.NewPipeline(transform.Options{
		MaxPixels:   cfg.Transform.MaxPixels,
		JPEGQuality: cfg.Transform.JPEGQuality,
		WebPQuality: cfg.Transform.WebPQuality,
	})
	publisher := events.NewPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.StreamMaxLen)
	m := metrics.New()

	tokens := security.NewTokenIssuer(jwtSecret(cfg, logger), cfg.Security.JWTTTL)
	authService := service.NewAuthService(users, tokens, logger)
	imageService := service.NewImageService(images, objectStore, gate, pipeline, publisher, m, service.ImageServiceConfig{
		PresignTTL:    cfg.Storage.PresignTTL,
		MaxUploadSize: cfg.Upload.MaxBytes,
		MaxConcurrent: cfg.Transform.MaxConcurrent,
	}, logger)

	handlerSet := handlers.NewHandlerSet(
		logger,
		handlers.Options{Environment: cfg.Environment, MaxUploadBytes: cfg.Upload.MaxBytes},
		authService,
		imageService,
		tokens,
		m,
		map[string]handlers.HealthCheck{
			"database": dbPool.Ping,
			"redis":    cache.HealthCheck(redisClient),
			"storage":  objectStore.Ping,
		},
	)
	httpServer := server.NewHTTPServer(cfg, logger, m, handlerSet)

	scheduler := jobs.NewScheduler(quotas, publisher, gate.Today, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
		<-scheduler.Stop().Done()
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdown(logger, httpServer, scheduler)
	return nil
}

func shutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		logger.Warn().Msg("housekeeping jobs still running at exit")
	}

	logger.Info().Msg("server exited cleanly")
}

// jwtSecret returns the configured signing secret. Outside production an
// empty secret is replaced with a random one, which invalidates tokens on
// every restart.
func jwtSecret(cfg *config.AppConfig, logger zerolog.Logger) string {
	if cfg.Security.JWTSecret != "" {
		return cfg.Security.JWTSecret
	}
	logger.Warn().Msg("security.jwtsecret not set, using an ephemeral secret")
	return uuid.NewString() + uuid.NewString()
}
