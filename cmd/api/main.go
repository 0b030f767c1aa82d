package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vidsecure/pipeline/internal/cache"
	"github.com/vidsecure/pipeline/internal/config"
	"github.com/vidsecure/pipeline/internal/database"
	"github.com/vidsecure/pipeline/internal/lifecycle"
	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/internal/metrics"
	"github.com/vidsecure/pipeline/internal/middleware"
	"github.com/vidsecure/pipeline/internal/notify"
	"github.com/vidsecure/pipeline/internal/queue"
	"github.com/vidsecure/pipeline/internal/storage"
	"github.com/vidsecure/pipeline/internal/tracing"
	"github.com/vidsecure/pipeline/internal/upload"
	"github.com/vidsecure/pipeline/pkg/models"
)

// API bundles the dependencies of the HTTP surface
type API struct {
	repo        *database.Repository
	cache       *cache.Cache
	store       *storage.Storage
	queue       *queue.Queue
	coordinator *upload.Coordinator
	hub         *notify.Hub
	log         *logging.Logger
	chunkSize   int64
	cancelTTL   time.Duration
}

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

	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer("vidsecure-api", cfg.Tracing.JaegerEndpoint)
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

	store, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

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

	hub := notify.NewHub()
	engine := lifecycle.NewEngine(repo, bridge, redisCache, log)
	enqueuer := queue.NewEnqueuer(q, redisCache, cfg.Pipeline.JobMarkerTTL, log)
	coordinator := upload.NewCoordinator(cfg.Upload, repo, store, engine, enqueuer, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background loops: event fan-in, stalled-upload reaping, rate limiter
	// cleanup and the metrics endpoint.
	go func() {
		if err := bridge.Run(ctx, hub); err != nil && ctx.Err() == nil {
			log.Fatalf("Event bridge stopped: %v", err)
		}
	}()
	go coordinator.Run(ctx)

	limiter := middleware.NewRateLimiter(100, 200)
	go limiter.Cleanup(ctx, 10*time.Minute, time.Hour)

	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		log.Infof("Starting metrics server on :%d", cfg.Metrics.Port)
		if err := metricsServer.Start(); err != nil {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	api := &API{
		repo:        repo,
		cache:       redisCache,
		store:       store,
		queue:       q,
		coordinator: coordinator,
		hub:         hub,
		log:         log,
		chunkSize:   cfg.Upload.ChunkSizeBytes,
		cancelTTL:   cfg.Pipeline.JobMarkerTTL,
	}

	router := setupRouter(api, limiter, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithErr("Metrics server shutdown failed", err)
	}

	log.Info("Server stopped")
}

func setupRouter(api *API, limiter *middleware.RateLimiter, log *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))

	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTAuth())
	v1.Use(middleware.RateLimit(limiter))
	{
		v1.POST("/videos",
			middleware.RequireCapability(models.CapabilityUpload), api.initiateUpload)
		v1.PUT("/videos/:id/chunks/:offset",
			middleware.RequireCapability(models.CapabilityUpload), api.putChunk)
		v1.POST("/videos/:id/complete",
			middleware.RequireCapability(models.CapabilityUpload), api.completeUpload)

		v1.GET("/videos",
			middleware.RequireCapability(models.CapabilityRead), api.listVideos)
		v1.GET("/videos/:id",
			middleware.RequireCapability(models.CapabilityRead), api.getVideo)

		v1.PATCH("/videos/:id",
			middleware.RequireCapability(models.CapabilityEdit), api.updateMetadata)
		v1.DELETE("/videos/:id",
			middleware.RequireCapability(models.CapabilityDelete), api.deleteVideo)

		v1.GET("/events",
			middleware.RequireCapability(models.CapabilitySubscribe), api.streamEvents)

		v1.GET("/admin/queue",
			middleware.RequireCapability(models.CapabilityAdmin), api.queueStats)
	}

	return router
}
