package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/miracsucu4417/image-processing-service/internal/cache"
	"github.com/miracsucu4417/image-processing-service/internal/config"
	"github.com/miracsucu4417/image-processing-service/internal/database"
	"github.com/miracsucu4417/image-processing-service/internal/log"
	"github.com/miracsucu4417/image-processing-service/internal/queue"
	"github.com/miracsucu4417/image-processing-service/internal/repository"
	"github.com/miracsucu4417/image-processing-service/internal/storage"
	"github.com/miracsucu4417/image-processing-service/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis, "image-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	objectStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("object store init failed")
	}

	images := repository.NewImageRepository(pool, cfg.Postgres.QueryTimeout)
	processor := tasks.NewProcessor(objectStore, images, logger)
	consumer := queue.NewConsumer(client, queue.Options{
		Stream:        cfg.Redis.Stream,
		Group:         cfg.Worker.Group,
		Name:          consumerName(cfg.Worker.Consumer),
		ClaimInterval: cfg.Worker.ClaimInterval,
	}, logger, processor)

	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("create consumer group failed")
	}

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped unexpectedly")
		os.Exit(1)
	}
	logger.Info().Msg("worker exited cleanly")
}

// consumerName falls back to the hostname so replicas started from the
// same config do not share a consumer identity.
func consumerName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return host
}
