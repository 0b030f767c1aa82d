package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidsecure/pipeline/internal/cache"
	"github.com/vidsecure/pipeline/internal/classifier"
	"github.com/vidsecure/pipeline/internal/config"
	"github.com/vidsecure/pipeline/internal/database"
	"github.com/vidsecure/pipeline/internal/lifecycle"
	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/internal/metrics"
	"github.com/vidsecure/pipeline/internal/notify"
	"github.com/vidsecure/pipeline/internal/queue"
	"github.com/vidsecure/pipeline/internal/tracing"
	"github.com/vidsecure/pipeline/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.NewDefault().Fatalf("Failed to load config: %v", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		logging.NewDefault().Fatalf("Failed to initialize logger: %v", err)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer("vidsecure-worker", cfg.Tracing.JaegerEndpoint)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer closer.Close()
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	bridge, err := notify.NewBridge(cfg.Redis, log)
	if err != nil {
		log.Fatalf("Failed to connect event bridge: %v", err)
	}
	defer bridge.Close()

	engine := lifecycle.NewEngine(repo, bridge, redisCache, log)

	scorer := classifier.NewThreshold(
		classifier.NewHTTPScorer(cfg.Classifier, log),
		cfg.Pipeline.ConfidenceThreshold,
	)

	pool := worker.NewPool(cfg.Pipeline, scorer, engine, q, redisCache, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down worker gracefully...")
		cancel()
	}()

	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		log.Infof("Starting metrics server on :%d", cfg.Metrics.Port)
		if err := metricsServer.Start(); err != nil {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	// Queue depth gauge, sampled rather than event-driven.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if depth, err := q.Depth(); err == nil {
					metrics.JobsQueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	log.Infof("Worker started with %d consumers, waiting for jobs...", cfg.Pipeline.WorkerCount)
	if err := q.Consume(ctx, cfg.Pipeline.WorkerCount, pool.Handle); err != nil {
		log.Fatalf("Failed to consume jobs: %v", err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithErr("Metrics server shutdown failed", err)
	}

	log.Info("Worker stopped")
}
