package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"ai-tutor-platform/internal/logger"
	"ai-tutor-platform/services"
)

const (
	TaskIngestPDF = "pdf:ingest"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type IngestPayload struct {
	PDFID   string `json:"pdf_id"`
	FileURL string `json:"file_url"`
	Title   string `json:"title"`
}

// Task creators
func NewIngestTask(req services.IngestRequest) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		PDFID:   req.PDFID,
		FileURL: req.FileURL,
		Title:   req.Title,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestPDF,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(QueueCritical),
	), nil
}

// Client enqueues ingestion tasks.
type Client struct {
	client *asynq.Client
}

func NewClient(opt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

func (c *Client) EnqueueIngestion(ctx context.Context, req services.IngestRequest) (string, error) {
	task, err := NewIngestTask(req)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", TaskIngestPDF, err)
	}
	logger.Info("ingestion queued", "pdf_id", req.PDFID, "task_id", info.ID, "queue", info.Queue)
	return info.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Ingester is the part of the ingestion pipeline the worker needs.
type Ingester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error)
}

// Task handlers
type TaskProcessor struct {
	ingestion Ingester
}

func NewTaskProcessor(ingestion Ingester) *TaskProcessor {
	return &TaskProcessor{ingestion: ingestion}
}

// ProcessIngestion runs one queued ingestion. Errors that would fail the
// same way on every attempt are wrapped with asynq.SkipRetry.
func (p *TaskProcessor) ProcessIngestion(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	log := logger.With("pdf_id", payload.PDFID, "task", t.Type())
	log.Info("processing queued ingestion")

	result, err := p.ingestion.Ingest(ctx, services.IngestRequest{
		PDFID:   payload.PDFID,
		FileURL: payload.FileURL,
		Title:   payload.Title,
	})
	if err != nil {
		var pe *services.PipelineError
		if errors.As(err, &pe) && !pe.Retryable() {
			log.Warn("ingestion failed permanently", "kind", string(pe.Kind), "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log.Info("queued ingestion done", "chunks", result.Chunks, "pages", result.Pages)
	return nil
}
