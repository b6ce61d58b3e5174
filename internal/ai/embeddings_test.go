package ai

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiEmbedder_Live(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e, err := NewGeminiEmbedder(ctx, apiKey, "text-embedding-004", RetryPolicy{})
	require.NoError(t, err)
	defer e.Close()

	docs, err := e.EmbedDocuments(ctx, []string{"hello world", "photosynthesis"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.NotEmpty(t, docs[0])

	q, err := e.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	assert.Len(t, q, len(docs[0]))
}

func TestNewEmbedders_RequireKeys(t *testing.T) {
	_, err := NewGeminiEmbedder(context.Background(), "", "text-embedding-004", RetryPolicy{})
	assert.ErrorContains(t, err, "GEMINI_API_KEY")

	_, err = NewOpenAIEmbedder("", "", "text-embedding-3-small", RetryPolicy{})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = NewGeminiClient(context.Background(), GeminiConfig{})
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{0.5, -1, 2}, toFloat32([]float64{0.5, -1, 2}))
}
