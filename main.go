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

	"film-forge-server/config"
	"film-forge-server/controllers"
	"film-forge-server/middleware"
	"film-forge-server/pkg/cache"
	"film-forge-server/pkg/database"
	"film-forge-server/pkg/events"
	"film-forge-server/pkg/llm"
	"film-forge-server/pkg/logger"
	"film-forge-server/pkg/queue"
	"film-forge-server/pkg/storage"
	"film-forge-server/pkg/video_engine"
	"film-forge-server/pkg/videogen"
	"film-forge-server/routes"
	"film-forge-server/services"
)

// @title Film Forge Server API
// @version 1.0
// @description AI film generation pipeline: title in, finished film out
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg := config.AppConfig

	// Initialize logger
	logger.InitLogger(cfg)
	logger.Info("Starting Film Forge Server...")

	// Initialize database
	if err := database.InitDatabase(cfg); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis cache
	if err := cache.InitRedis(cfg); err != nil {
		logger.Fatalf("Failed to initialize Redis: %v", err)
	}

	// Initialize RabbitMQ
	if err := queue.InitRabbitMQ(cfg); err != nil {
		logger.Fatalf("Failed to initialize RabbitMQ: %v", err)
	}

	// Media storage and merge engine
	store, err := storage.NewLocalStore(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize media store: %v", err)
	}
	merger := video_engine.NewMerger(cfg, store)

	// External generation adapters
	texter := llm.NewClient(cfg)
	videoGen := videogen.NewClient(cfg)

	// Event relay over Redis pub/sub
	relay := events.NewRedisRelay(cache.Cache.Client())

	// Services
	db := database.GetDB()
	storyService := services.NewStoryService(db, texter)
	pipelineService := services.NewPipelineService(
		db, storyService, videoGen, store, merger, relay,
		cache.Cache, queue.PublishFilmGenerationTask, cfg.Pipeline,
	)
	filmService := services.NewFilmService(db, cache.Cache)
	videoService := services.NewVideoService(db, videoGen, store, queue.PublishVideoGenerationTask, cfg.Pipeline)
	userService := services.NewUserService(db)

	// Start background workers
	startBackgroundWorkers(pipelineService, videoService)

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Create Gin router
	r := gin.New()

	// Add global middleware
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.APIRateLimit())

	// Setup routes
	routes.SetupRoutes(r, routes.Controllers{
		Auth:  controllers.NewAuthController(userService),
		Film:  controllers.NewFilmController(filmService, storyService, pipelineService, relay),
		Video: controllers.NewVideoController(videoService, store),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	cleanup()

	logger.Info("Server stopped")
}

func startBackgroundWorkers(pipeline *services.PipelineService, videos *services.VideoService) {
	logger.Info("Starting background workers...")

	// Film generation runs are long-lived and sequential per film; one worker
	// per process keeps resource usage predictable.
	go func() {
		err := queue.Queue.ConsumeTask(queue.QueueFilmGeneration, func(task *queue.Task) error {
			filmID, err := queue.FilmIDFromTask(task)
			if err != nil {
				logger.Errorf("Dropping malformed film generation task %s: %v", task.ID, err)
				return nil
			}
			return pipeline.Run(context.Background(), filmID)
		}, 1)
		if err != nil {
			logger.Errorf("Failed to start film generation workers: %v", err)
		}
	}()

	// Standalone video requests are independent; run a few in parallel.
	go func() {
		err := queue.Queue.ConsumeTask(queue.QueueVideoGeneration, func(task *queue.Task) error {
			videoID, err := queue.VideoIDFromTask(task)
			if err != nil {
				logger.Errorf("Dropping malformed video generation task %s: %v", task.ID, err)
				return nil
			}
			return videos.ProcessVideoTask(context.Background(), videoID)
		}, 3)
		if err != nil {
			logger.Errorf("Failed to start video generation workers: %v", err)
		}
	}()

	logger.Info("Background workers started")
}

func cleanup() {
	logger.Info("Cleaning up resources...")

	if err := queue.Queue.Close(); err != nil {
		logger.Errorf("Failed to close RabbitMQ connection: %v", err)
	}

	if err := cache.Cache.Close(); err != nil {
		logger.Errorf("Failed to close Redis connection: %v", err)
	}

	logger.Info("Cleanup completed")
}
