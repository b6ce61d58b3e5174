package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-tutor-platform/internal/auth"
	"ai-tutor-platform/internal/config"
	"ai-tutor-platform/internal/logger"
	"ai-tutor-platform/internal/queue"
	"ai-tutor-platform/internal/scheduler"
	"ai-tutor-platform/internal/telemetry"
	"ai-tutor-platform/middleware"
	"ai-tutor-platform/routes"
	"ai-tutor-platform/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer(cfg.ServiceName, cfg.OTelEndpoint, cfg.OTelSampleRatio)
	if err != nil {
		log.Fatal("Failed to initialize tracer:", err)
	}
	defer shutdownTracer()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 2*time.Minute)
	deps, err := services.NewPipelineDependencies(initCtx, cfg, metrics)
	cancelInit()
	if err != nil {
		log.Fatal("Failed to initialize pipeline dependencies:", err)
	}
	defer deps.Close()

	// Redis is optional: without it there is no rate limiting and no async ingestion.
	var rdb *redis.Client
	var enqueuer routes.IngestionEnqueuer
	if cfg.RedisEnabled() {
		rdb, err = config.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without rate limiting and async ingestion", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
			redisOpt, err := config.AsynqRedisOpt(cfg)
			if err != nil {
				log.Fatal("Invalid Redis configuration:", err)
			}
			queueClient := queue.NewClient(redisOpt)
			defer queueClient.Close()
			enqueuer = queueClient
		}
	}

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.MaxRequestSize))
	if rdb != nil {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitReqs, time.Duration(cfg.RateLimitWindow)*time.Second))
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"ingestion": deps.IngestionConfigError() == nil,
			"retrieval": deps.RetrievalConfigError() == nil,
			"async":     enqueuer != nil,
		})
	})

	var guards []gin.HandlerFunc
	if cfg.AuthJWTSecret != "" {
		validator, err := auth.NewTokenValidator(cfg.AuthJWTSecret, cfg.AuthIssuer, rdb)
		if err != nil {
			log.Fatal("Invalid auth configuration:", err)
		}
		guards = append(guards, middleware.NewAuthMiddleware(validator).RequireAuth())
	}

	routes.SetupPDFRoutes(router, deps, enqueuer, guards...)

	sched := scheduler.NewScheduler()
	if deps.StatusStore != nil {
		sweeper := scheduler.NewStaleSweeper(deps.StatusStore, metrics)
		if err := sweeper.Register(sched, cfg.StaleSweepInterval); err != nil {
			log.Fatal("Failed to schedule stale ingestion sweep:", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
