package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-tutor-platform/internal/ai"
	"ai-tutor-platform/internal/config"
	"ai-tutor-platform/internal/database"
	"ai-tutor-platform/internal/logger"
	"ai-tutor-platform/internal/telemetry"
	"ai-tutor-platform/internal/vectorstore"
	"ai-tutor-platform/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// Embedder turns text into vectors. EmbedDocuments preserves input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is a namespace-partitioned nearest-neighbour index.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, records []models.VectorRecord) error
	Query(ctx context.Context, namespace string, vector []float32, k int, filter map[string]string) ([]models.VectorMatch, error)
	DeleteByDocument(ctx context.Context, namespace, documentID string) error
}

// Generator produces one answer for a system instruction and a prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Extractor interface {
	Extract(ctx context.Context, content []byte) (*ExtractionResult, error)
}

// StatusStore persists ingestion outcomes on source documents.
type StatusStore interface {
	BeginAttempt(ctx context.Context, doc models.SourceDocument, lease time.Duration) (string, error)
	CompleteAttempt(ctx context.Context, pdfID, attemptID string, update models.StatusUpdate) error
	Get(ctx context.Context, pdfID string) (*models.SourceDocument, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type PipelineSettings struct {
	Namespace       string
	ChunkSize       int
	ChunkOverlap    int
	TopK            int
	ProviderTimeout time.Duration
	IngestionLease  time.Duration
}

func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		ChunkSize:       DefaultChunkSize,
		ChunkOverlap:    DefaultChunkOverlap,
		TopK:            DefaultTopK,
		ProviderTimeout: 60 * time.Second,
		IngestionLease:  10 * time.Minute,
	}
}

// PipelineDependencies is built once at process start and shared by both
// pipelines. Tests assemble it directly with fakes.
type PipelineDependencies struct {
	Embedder    Embedder
	VectorStore VectorStore
	Generator   Generator
	Fetcher     Fetcher
	Extractor   Extractor
	StatusStore StatusStore
	Metrics     *telemetry.Metrics
	Settings    PipelineSettings

	ingestionMissing []string
	retrievalMissing []string
	closers          []func() error
}

// NewPipelineDependencies builds every client the configuration allows.
// Missing credentials are not an error here: they are remembered and
// reported by the pipeline that needs them. Failing to reach a configured
// backend is an error.
func NewPipelineDependencies(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*PipelineDependencies, error) {
	deps := &PipelineDependencies{
		Fetcher:   NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxFileSize),
		Extractor: NewPDFExtractor(cfg.PDFToTextFallback),
		Metrics:   metrics,
		Settings: PipelineSettings{
			Namespace:       cfg.VectorNamespace,
			ChunkSize:       cfg.MaxChunkSize,
			ChunkOverlap:    cfg.ChunkOverlap,
			TopK:            cfg.RetrievalTopK,
			ProviderTimeout: cfg.ProviderTimeout,
			IngestionLease:  cfg.IngestionLease,
		},
		ingestionMissing: cfg.MissingIngestionKeys(),
		retrievalMissing: cfg.MissingRetrievalKeys(),
	}
	retry := ai.RetryPolicy{MaxElapsed: cfg.ProviderRetryMaxElapsed}

	if err := deps.buildEmbedder(ctx, cfg, retry); err != nil {
		deps.Close()
		return nil, err
	}
	if err := deps.buildGenerator(ctx, cfg, retry); err != nil {
		deps.Close()
		return nil, err
	}
	if err := deps.buildVectorStore(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	if err := deps.buildStatusStore(cfg); err != nil {
		deps.Close()
		return nil, err
	}

	if len(deps.ingestionMissing) > 0 {
		logger.Warn("ingestion pipeline disabled", "missing", deps.ingestionMissing)
	}
	if len(deps.retrievalMissing) > 0 {
		logger.Warn("retrieval pipeline disabled", "missing", deps.retrievalMissing)
	}
	return deps, nil
}

func (d *PipelineDependencies) buildEmbedder(ctx context.Context, cfg *config.Config, retry ai.RetryPolicy) error {
	switch cfg.EmbeddingsProvider {
	case config.ProviderGoogle, "":
		if cfg.GeminiAPIKey == "" {
			return nil
		}
		embedder, err := ai.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GoogleEmbeddingsModel, retry)
		if err != nil {
			return err
		}
		d.Embedder = embedder
		d.closers = append(d.closers, embedder.Close)
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil
		}
		embedder, err := ai.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIEmbeddingsModel, retry)
		if err != nil {
			return err
		}
		d.Embedder = embedder
	}
	return nil
}

func (d *PipelineDependencies) buildGenerator(ctx context.Context, cfg *config.Config, retry ai.RetryPolicy) error {
	switch cfg.GenerationProvider {
	case config.ProviderGoogle, "":
		if cfg.GeminiAPIKey == "" {
			return nil
		}
		client, err := ai.NewGeminiClient(ctx, ai.GeminiConfig{
			APIKey:          cfg.GeminiAPIKey,
			Model:           cfg.GeminiModel,
			Tier:            cfg.GeminiTier,
			Temperature:     float32(cfg.Temperature),
			MaxOutputTokens: int32(cfg.MaxOutputTokens),
			Retry:           retry,
			OnStateChange: func(from, to string) {
				d.Metrics.RecordCircuitBreakerState("gemini", to)
			},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		d.Generator = client
		d.closers = append(d.closers, client.Close)
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil
		}
		client, err := ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			Model:           cfg.OpenAIChatModel,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: int64(cfg.MaxOutputTokens),
			Retry:           retry,
		})
		if err != nil {
			return err
		}
		d.Generator = client
	}
	return nil
}

func (d *PipelineDependencies) buildVectorStore(ctx context.Context, cfg *config.Config) error {
	if cfg.VectorIndexName == "" {
		return nil
	}
	switch cfg.VectorStoreProvider {
	case config.VectorStoreMemory:
		d.VectorStore = vectorstore.NewMemoryStore(0)
	case config.VectorStoreQdrant:
		if cfg.QdrantHost == "" || cfg.QdrantAPIKey == "" {
			return nil
		}
		store, err := vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.VectorIndexName,
			Dimension:  cfg.VectorDimensions,
		})
		if err != nil {
			return err
		}
		d.VectorStore = store
		d.closers = append(d.closers, store.Close)
	}
	return nil
}

func (d *PipelineDependencies) buildStatusStore(cfg *config.Config) error {
	if cfg.MongoURI == "" {
		if cfg.VectorStoreProvider == config.VectorStoreMemory {
			d.StatusStore = database.NewMemoryStatusStore()
		}
		return nil
	}
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return err
	}
	d.StatusStore = database.NewMongoStatusStore(client.Database(cfg.DBName), cfg.SourceCollection)
	d.closers = append(d.closers, disconnectMongo(client))
	return nil
}

func disconnectMongo(client *mongo.Client) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	}
}

// IngestionConfigError reports why the ingestion pipeline cannot run, or nil.
func (d *PipelineDependencies) IngestionConfigError() error {
	missing := append([]string(nil), d.ingestionMissing...)
	if len(missing) == 0 {
		missing = missingComponents(map[string]bool{
			"embedder":     d.Embedder != nil,
			"vector store": d.VectorStore != nil,
			"status store": d.StatusStore != nil,
			"fetcher":      d.Fetcher != nil,
			"extractor":    d.Extractor != nil,
		})
	}
	if len(missing) > 0 {
		return NewConfigurationError("ingestion", missing)
	}
	return nil
}

// RetrievalConfigError reports why the answering pipeline cannot run, or nil.
func (d *PipelineDependencies) RetrievalConfigError() error {
	missing := append([]string(nil), d.retrievalMissing...)
	if len(missing) == 0 {
		missing = missingComponents(map[string]bool{
			"embedder":     d.Embedder != nil,
			"vector store": d.VectorStore != nil,
			"generator":    d.Generator != nil,
		})
	}
	if len(missing) > 0 {
		return NewConfigurationError("retrieval", missing)
	}
	return nil
}

func missingComponents(present map[string]bool) []string {
	var missing []string
	for _, name := range []string{"embedder", "vector store", "generator", "status store", "fetcher", "extractor"} {
		if ok, listed := present[name]; listed && !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Close releases every client in reverse construction order.
func (d *PipelineDependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
