package main

import (
	"context"
	"log"
	"time"

	"ai-tutor-platform/internal/config"
	"ai-tutor-platform/internal/logger"
	"ai-tutor-platform/internal/queue"
	"ai-tutor-platform/internal/telemetry"
	"ai-tutor-platform/services"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if !cfg.RedisEnabled() {
		log.Fatal("REDIS_URL is required to run the ingestion worker")
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.ServiceName+"-worker", cfg.OTelEndpoint, cfg.OTelSampleRatio)
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

	ingestion, err := services.NewIngestionPipeline(deps)
	if err != nil {
		log.Fatal("Ingestion pipeline is not configured:", err)
	}

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid Redis configuration:", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 20,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(ingestion)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestPDF, processor.ProcessIngestion)

	logger.Info("Starting ingestion worker", "concurrency", 20, "queues", "critical(6), default(3), low(1)")

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
