package genservice

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ClientConfig contains configuration for creating an AnthropicGenerator.
type ClientConfig struct {
	// Model is the Claude model to use. Defaults to Sonnet 4.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// MaxTokens caps each response. Defaults to 8192.
	MaxTokens int64
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxRetries is handed to the SDK, which retries rate limits, conflicts,
	// timeouts and server errors with its own backoff.
	MaxRetries int
}

// AnthropicGenerator implements Generator with the Anthropic Messages API,
// directly or through AWS Bedrock.
type AnthropicGenerator struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tracker   *TokenTracker
}

// NewAnthropicGenerator creates a generator backed by the Anthropic API.
func NewAnthropicGenerator(cfg ClientConfig) (*AnthropicGenerator, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	opts = append(opts, option.WithMaxRetries(max(cfg.MaxRetries, 0)))

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &AnthropicGenerator{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock
// cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), "us.anthropic.") {
		return model
	}
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Model returns the configured model name.
func (g *AnthropicGenerator) Model() string {
	return string(g.model)
}

// Tracker returns the token tracker for this generator.
func (g *AnthropicGenerator) Tracker() *TokenTracker {
	return g.tracker
}

// Usage implements UsageReporter.
func (g *AnthropicGenerator) Usage() (input, output int64) {
	return g.tracker.Total()
}

// Generate renders kind with req and returns the model's text response.
func (g *AnthropicGenerator) Generate(ctx context.Context, kind PromptKind, req Request) (string, error) {
	system, user, err := Render(kind, req)
	if err != nil {
		return "", err
	}

	ctx, span := startSpan(ctx, "genservice.AnthropicGenerator.Generate", kind,
		attribute.String("model", string(g.model)))
	defer span.End()

	text, err := g.call(ctx, system, user, span)
	endSpan(span, err)
	return text, err
}

func (g *AnthropicGenerator) call(ctx context.Context, system, user string, span trace.Span) (string, error) {
	resp, err := g.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("API call failed: %w", err)
	}

	g.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	span.SetAttributes(
		attribute.Int64("input_tokens", resp.Usage.InputTokens),
		attribute.Int64("output_tokens", resp.Usage.OutputTokens),
	)

	var result strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			result.WriteString(variant.Text)
		}
	}
	return result.String(), nil
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Cost estimates the cost in USD at Sonnet pricing ($3/1M input, $15/1M output).
func (t *TokenTracker) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	inputCost := float64(t.inputTok) / 1_000_000 * 3.0
	outputCost := float64(t.outputTok) / 1_000_000 * 15.0
	return inputCost + outputCost
}
