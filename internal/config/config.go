package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"

	VectorStoreQdrant = "qdrant"
	VectorStoreMemory = "memory"
)

type Config struct {
	Port           string
	GinMode        string
	ServiceName    string
	CORSOrigins    []string
	MaxRequestSize int64
	MaxFileSize    int64

	RateLimitReqs   int
	RateLimitWindow int

	// MongoDB (status store)
	MongoURI         string
	DBName           string
	SourceCollection string

	// Redis Configuration (rate limiting + async ingestion queue)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Embeddings configuration
	EmbeddingsProvider    string // "google" (default), "openai"
	GoogleEmbeddingsModel string
	OpenAIEmbeddingsModel string

	// Generation configuration
	GenerationProvider string // "google" (default), "openai"
	GeminiAPIKey       string
	GeminiModel        string
	GeminiTier         string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIChatModel    string
	Temperature        float64
	MaxOutputTokens    int

	// Vector index
	VectorStoreProvider string // "qdrant" (default), "memory"
	QdrantHost          string
	QdrantPort          int
	QdrantAPIKey        string
	QdrantUseTLS        bool
	VectorIndexName     string
	VectorNamespace     string
	VectorDimensions    int

	// Pipelines
	MaxChunkSize            int
	ChunkOverlap            int
	RetrievalTopK           int
	ProviderTimeout         time.Duration
	FetchTimeout            time.Duration
	ProviderRetryMaxElapsed time.Duration
	IngestionLease          time.Duration
	StaleSweepInterval      time.Duration
	PDFToTextFallback       bool

	// Optional bearer auth on the API
	AuthJWTSecret string
	AuthIssuer    string

	// OpenTelemetry
	OTelEndpoint    string
	OTelSampleRatio float64
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		ServiceName:    getEnv("SERVICE_NAME", "ai-tutor-platform"),
		CORSOrigins:    strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxRequestSize: getEnvInt64("MAX_REQUEST_SIZE", 1048576),
		MaxFileSize:    getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB cap on fetched PDFs

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		MongoURI:         getEnv("MONGO_URI", ""),
		DBName:           getEnv("DB_NAME", "ai_tutor"),
		SourceCollection: getEnv("SOURCE_COLLECTION", "pyq_pdfs"),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		EmbeddingsProvider:    strings.ToLower(getEnv("EMBEDDINGS_PROVIDER", ProviderGoogle)),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),

		GenerationProvider: strings.ToLower(getEnv("GENERATION_PROVIDER", ProviderGoogle)),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:         getEnv("GEMINI_TIER", "free"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		OpenAIChatModel:    getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		Temperature:        getEnvFloat64("GENERATION_TEMPERATURE", 0.2),
		MaxOutputTokens:    getEnvInt("GENERATION_MAX_OUTPUT_TOKENS", 2048),

		VectorStoreProvider: strings.ToLower(getEnv("VECTOR_STORE_PROVIDER", VectorStoreQdrant)),
		QdrantHost:          getEnv("QDRANT_HOST", ""),
		QdrantPort:          getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:        getEnv("QDRANT_API_KEY", ""),
		QdrantUseTLS:        getEnvBool("QDRANT_USE_TLS", true),
		VectorIndexName:     getEnv("VECTOR_INDEX_NAME", ""),
		VectorNamespace:     getEnv("VECTOR_NAMESPACE", ""),
		VectorDimensions:    getEnvInt("VECTOR_DIM", 768),

		MaxChunkSize:            getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap:            getEnvInt("CHUNK_OVERLAP", 200),
		RetrievalTopK:           getEnvInt("RETRIEVAL_TOP_K", 5),
		ProviderTimeout:         getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		FetchTimeout:            getEnvDuration("FETCH_TIMEOUT", 60*time.Second),
		ProviderRetryMaxElapsed: getEnvDuration("PROVIDER_RETRY_MAX_ELAPSED", 0),
		IngestionLease:          getEnvDuration("INGESTION_LEASE", 10*time.Minute),
		StaleSweepInterval:      getEnvDuration("STALE_SWEEP_INTERVAL", time.Minute),
		PDFToTextFallback:       getEnvBool("PDFTOTEXT_FALLBACK", true),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		AuthIssuer:    getEnv("AUTH_ISSUER", "ai-tutor-platform"),

		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),
	}

	// Validate values that would break every pipeline regardless of credentials
	if cfg.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("MAX_CHUNK_SIZE must be positive")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP must be between 0 and MAX_CHUNK_SIZE")
	}
	if cfg.RetrievalTopK <= 0 {
		return nil, fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}
	switch cfg.VectorStoreProvider {
	case VectorStoreQdrant, VectorStoreMemory:
	default:
		return nil, fmt.Errorf("unknown VECTOR_STORE_PROVIDER %q", cfg.VectorStoreProvider)
	}
	if cfg.AuthJWTSecret != "" && len(cfg.AuthJWTSecret) < 32 {
		return nil, fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters")
	}

	return cfg, nil
}

// MissingIngestionKeys lists the environment keys the ingestion pipeline
// needs but cannot find. An empty result means the pipeline can start.
func (c *Config) MissingIngestionKeys() []string {
	missing := c.missingVectorKeys()
	missing = append(missing, c.missingProviderKey(c.EmbeddingsProvider, "EMBEDDINGS_PROVIDER")...)
	// The memory provider keeps status in-process too.
	if c.MongoURI == "" && c.VectorStoreProvider != VectorStoreMemory {
		missing = append(missing, "MONGO_URI")
	}
	return dedupe(missing)
}

// MissingRetrievalKeys lists the environment keys the answering pipeline
// needs but cannot find.
func (c *Config) MissingRetrievalKeys() []string {
	missing := c.missingVectorKeys()
	missing = append(missing, c.missingProviderKey(c.EmbeddingsProvider, "EMBEDDINGS_PROVIDER")...)
	missing = append(missing, c.missingProviderKey(c.GenerationProvider, "GENERATION_PROVIDER")...)
	return dedupe(missing)
}

func (c *Config) missingVectorKeys() []string {
	var missing []string
	if c.VectorIndexName == "" {
		missing = append(missing, "VECTOR_INDEX_NAME")
	}
	if c.VectorNamespace == "" {
		missing = append(missing, "VECTOR_NAMESPACE")
	}
	if c.VectorStoreProvider == VectorStoreQdrant {
		if c.QdrantHost == "" {
			missing = append(missing, "QDRANT_HOST")
		}
		if c.QdrantAPIKey == "" {
			missing = append(missing, "QDRANT_API_KEY")
		}
	}
	return missing
}

func (c *Config) missingProviderKey(provider, selector string) []string {
	switch provider {
	case ProviderGoogle, "":
		if c.GeminiAPIKey == "" {
			return []string{"GEMINI_API_KEY"}
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return []string{"OPENAI_API_KEY"}
		}
	default:
		return []string{selector}
	}
	return nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
