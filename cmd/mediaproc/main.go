package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	mediaapi "github.com/medialens/mediaproc/internal/api/handlers/media"
	"github.com/medialens/mediaproc/internal/api/router"
	"github.com/medialens/mediaproc/internal/api/server"
	"github.com/medialens/mediaproc/internal/cache"
	"github.com/medialens/mediaproc/internal/config"
	"github.com/medialens/mediaproc/internal/infra/kafka/consumer"
	"github.com/medialens/mediaproc/internal/infra/kafka/producer"
	"github.com/medialens/mediaproc/internal/kafka/handlers/deadletter"
	taskmsg "github.com/medialens/mediaproc/internal/kafka/handlers/task"
	"github.com/medialens/mediaproc/internal/media/audio"
	"github.com/medialens/mediaproc/internal/media/document"
	"github.com/medialens/mediaproc/internal/media/image"
	"github.com/medialens/mediaproc/internal/media/video"
	"github.com/medialens/mediaproc/internal/ops"
	"github.com/medialens/mediaproc/internal/pipeline"
	taskrepo "github.com/medialens/mediaproc/internal/repository/task"
	mediasvc "github.com/medialens/mediaproc/internal/service/media"
	"github.com/medialens/mediaproc/internal/storage/object"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnLifetime,
	}

	db, err := dbpg.New(cfg.Database.MasterDSN, cfg.Database.SlaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Object storage with source and target buckets.
	storage, err := object.NewStorage(object.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}
	if err := storage.EnsureBuckets(ctx, cfg.Storage.SourceBucket, cfg.Storage.TargetBucket); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to ensure buckets")
	}

	// Redis-backed task status cache.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	statusCache := cache.NewStatusCache(redisClient, cfg.Redis.StatusTTL)

	// Transformation executor with one handler registry per media namespace.
	executor := pipeline.NewExecutor(
		pipeline.NewRegistry(ops.MediaImage, image.Handlers(storage, cfg.Storage.SourceBucket)),
		pipeline.NewRegistry(ops.MediaAudio, audio.Handlers()),
		pipeline.NewRegistry(ops.MediaVideo, video.Handlers()),
		pipeline.NewRegistry(ops.MediaDocument, document.Handlers()),
	)

	// One producer per lifecycle topic.
	taskProducer := producer.New(cfg.Kafka.Brokers, cfg.Kafka.Topics.Tasks, strategy)
	dlqProducer := producer.New(cfg.Kafka.Brokers, cfg.Kafka.Topics.DeadLetter, strategy)
	notifyProducer := producer.New(cfg.Kafka.Brokers, cfg.Kafka.Topics.Notifications, strategy)

	// Repository and service layer.
	repo := taskrepo.NewRepository(db)
	service := mediasvc.NewService(storage, repo, statusCache, taskProducer, executor, mediasvc.Buckets{
		Source: cfg.Storage.SourceBucket,
		Target: cfg.Storage.TargetBucket,
	})

	// Kafka consumers: task execution and dead-letter convergence.
	taskHandler := taskmsg.NewHandler(service, dlqProducer, cfg.Pipeline.Timeout)
	dlqHandler := deadletter.NewHandler(repo, statusCache, notifyProducer)

	taskConsumer := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.Topics.Tasks, cfg.Kafka.GroupID, strategy, taskHandler)
	dlqConsumer := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.Topics.DeadLetter, cfg.Kafka.GroupID, strategy, dlqHandler)

	var wg sync.WaitGroup
	wg.Add(2)
	go taskConsumer.Consume(ctx, &wg)
	go dlqConsumer.Consume(ctx, &wg)

	// Start HTTP server in a separate goroutine.
	r := router.Setup(mediaapi.NewHandler(service))
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for Kafka consumer goroutines to finish.
	wg.Wait()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	// Close Redis, Kafka producers and consumers.
	if err := redisClient.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close redis client")
	}
	for _, p := range []*producer.Producer{taskProducer, dlqProducer, notifyProducer} {
		if err := p.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	for _, c := range []*consumer.Consumer{taskConsumer, dlqConsumer} {
		if err := c.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}
}
