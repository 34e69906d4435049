package main

import (
	"fmt"

	"github.com/ShayCichocki/friday/internal/config"
	"github.com/ShayCichocki/friday/internal/genservice"
)

// newGenerator creates the generation service selected by the config.
// Bedrock uses the AWS credential chain and needs no API key. The Anthropic
// SDK retries on its own schedule, so generation.retry_backoff applies to
// OpenAI only.
func newGenerator(cfg *config.Config) (genservice.Generator, error) {
	gen := cfg.Generation

	var apiKey string
	if !(gen.Provider == config.ProviderAnthropic && gen.Bedrock) {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: set %s or generation.api_key", err, config.APIKeyEnv(gen.Provider))
		}
		apiKey = key
	}

	switch gen.Provider {
	case config.ProviderOpenAI:
		g, err := genservice.NewOpenAIGenerator(genservice.OpenAIConfig{
			Model:     gen.Model,
			APIKey:    apiKey,
			BaseURL:   gen.OpenAIBaseURL,
			MaxTokens: gen.MaxTokens,
			Retry: genservice.RetryPolicy{
				MaxRetries: gen.MaxRetries,
				Backoff:    gen.RetryBackoff,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create OpenAI generator: %w", err)
		}
		return g, nil

	case config.ProviderAnthropic, "":
		g, err := genservice.NewAnthropicGenerator(genservice.ClientConfig{
			Model:         gen.Model,
			APIKey:        apiKey,
			MaxTokens:     int64(gen.MaxTokens),
			UseAWSBedrock: gen.Bedrock,
			AWSRegion:     gen.AWSRegion,
			AWSProfile:    gen.AWSProfile,
			MaxRetries:    gen.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("create Anthropic generator: %w", err)
		}
		return g, nil

	default:
		return nil, fmt.Errorf("unknown generation provider %q", gen.Provider)
	}
}
