package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int64
	Retry           RetryPolicy
}

// OpenAIClient generates answers with the chat completions endpoint.
type OpenAIClient struct {
	client openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY for generation")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	return &OpenAIClient{
		client: openai.NewClient(openAIOptions(cfg.APIKey, cfg.BaseURL)...),
		cfg:    cfg,
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	ctx, span := otel.Tracer("openai-client").Start(ctx, "openai.chat_completion")
	defer span.End()
	span.SetAttributes(attribute.String("openai.model", c.cfg.Model))

	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(c.cfg.Model),
		Temperature: openai.Float(c.cfg.Temperature),
	}
	if c.cfg.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.cfg.MaxOutputTokens)
	}

	resp, err := withRateLimitRetry(ctx, c.cfg.Retry, func() (*openai.ChatCompletion, error) {
		return c.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	span.SetAttributes(attribute.Int64("openai.total_tokens", resp.Usage.TotalTokens))
	return text, nil
}
