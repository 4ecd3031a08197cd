package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/document"
	"server/internal/domain"
	"server/internal/drafts"
	"server/internal/events"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/merge"
	"server/internal/queue"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	if err := repo.EnsureSchema(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	var blobs domain.BlobStore
	var staticDir string
	switch cfg.StorageBackend {
	case infra.StorageBackendS3:
		blobs, err = storage.NewObjectStore(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object storage")
		}
	default:
		fileStore, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init file storage")
		}
		blobs = fileStore
		staticDir = cfg.StoragePath
	}

	// Events are optional; without AMQP_URL the publisher is nil and the
	// queue service skips emission.
	var sink queue.EventSink
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect amqp")
		}
		defer publisher.Close()
		sink = publisher
	}

	docs := document.NewRedisStore(redisClient)
	requests := repo.NewRequestRepository(dbpool)
	engine := merge.NewEngine(docs, blobs, logger)
	queueSvc := queue.NewService(requests, engine, sink, logger)
	draftSvc := drafts.NewService(requests, blobs, logger)

	app := handlers.NewApp(queueSvc, draftSvc, docs, logger)
	router := httpapi.NewRouter(app, logger, httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       staticDir,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
