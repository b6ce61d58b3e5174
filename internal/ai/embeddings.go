package ai

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go"
	oaioption "github.com/openai/openai-go/option"
	"google.golang.org/api/option"
)

const (
	geminiEmbedBatchSize = 100
	openAIEmbedBatchSize = 500
)

// GeminiEmbedder embeds text with Google Generative AI (text-embedding-004 by default).
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	retry  RetryPolicy
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, retry RetryPolicy) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, retry: retry}, nil
}

// EmbedDocuments embeds texts in batches, preserving input order.
func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += geminiEmbedBatchSize {
		end := min(i+geminiEmbedBatchSize, len(texts))

		batch := em.NewBatch()
		for _, text := range texts[i:end] {
			batch.AddContent(genai.Text(text))
		}

		resp, err := withRateLimitRetry(ctx, e.retry, func() (*genai.BatchEmbedContentsResponse, error) {
			return em.BatchEmbedContents(ctx, batch)
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		if len(resp.Embeddings) != end-i {
			return nil, fmt.Errorf("batch %d-%d: expected %d embeddings, got %d", i, end, end-i, len(resp.Embeddings))
		}
		for _, emb := range resp.Embeddings {
			vectors = append(vectors, emb.Values)
		}
	}
	return vectors, nil
}

func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalQuery

	resp, err := withRateLimitRetry(ctx, e.retry, func() (*genai.EmbedContentResponse, error) {
		return em.EmbedContent(ctx, genai.Text(text))
	})
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embedding.Values, nil
}

func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}

// OpenAIEmbedder embeds text with the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	retry  RetryPolicy
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, retry RetryPolicy) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY for embeddings")
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(openAIOptions(apiKey, baseURL)...),
		model:  model,
		retry:  retry,
	}, nil
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openAIEmbedBatchSize {
		end := min(i+openAIEmbedBatchSize, len(texts))
		batch, err := e.embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := withRateLimitRetry(ctx, e.retry, func() (*openai.CreateEmbeddingResponse, error) {
		return e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// Data carries its own index; place each vector where its input was.
	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(texts) || vectors[idx] != nil {
			return nil, fmt.Errorf("embedding response has invalid index %d", data.Index)
		}
		vectors[idx] = toFloat32(data.Embedding)
	}
	return vectors, nil
}

func openAIOptions(apiKey, baseURL string) []oaioption.RequestOption {
	opts := []oaioption.RequestOption{
		oaioption.WithAPIKey(apiKey),
		// Retries are governed by RetryPolicy, not the SDK.
		oaioption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, oaioption.WithBaseURL(baseURL))
	}
	return opts
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
