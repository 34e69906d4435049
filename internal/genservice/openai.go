package genservice

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

// OpenAIConfig contains configuration for creating an OpenAIGenerator.
type OpenAIConfig struct {
	// Model defaults to gpt-4o-mini.
	Model string
	// APIKey is the OpenAI API key. If empty, uses OPENAI_API_KEY env var.
	APIKey string
	// BaseURL points at an OpenAI-compatible endpoint, if set.
	BaseURL string
	// MaxTokens caps each response; zero leaves it to the server.
	MaxTokens int
	// Retry controls retries of failed calls. Only rate limits, server
	// errors and transport failures are retried unless Retry.Retryable is set.
	Retry RetryPolicy
}

// OpenAIGenerator implements Generator with an OpenAI-compatible chat API.
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
	retry     RetryPolicy
	tracker   *TokenTracker
}

// NewOpenAIGenerator creates a generator backed by the OpenAI chat completions API.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	retry := cfg.Retry
	if retry.Retryable == nil {
		retry.Retryable = openAIRetryable
	}

	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.MaxTokens,
		retry:     retry,
		tracker:   NewTokenTracker(),
	}, nil
}

// Usage implements UsageReporter.
func (g *OpenAIGenerator) Usage() (input, output int64) {
	return g.tracker.Total()
}

// Generate renders kind with req and returns the first choice's content.
func (g *OpenAIGenerator) Generate(ctx context.Context, kind PromptKind, req Request) (string, error) {
	system, user, err := Render(kind, req)
	if err != nil {
		return "", err
	}

	ctx, span := startSpan(ctx, "genservice.OpenAIGenerator.Generate", kind,
		attribute.String("model", g.model))
	defer span.End()

	text, err := g.retry.Do(ctx, string(kind), func(ctx context.Context) (string, error) {
		chatReq := openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		}
		if g.maxTokens > 0 {
			chatReq.MaxCompletionTokens = g.maxTokens
		}

		resp, err := g.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return "", fmt.Errorf("OpenAI API call failed: %w", err)
		}
		g.tracker.Add(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("OpenAI returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	endSpan(span, err)
	return text, err
}
