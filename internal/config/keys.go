package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured for the provider.
var ErrNoAPIKey = errors.New("no generation API key configured")

// KeySource says where the generation API key came from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// minKeyLen rejects obviously truncated keys.
const minKeyLen = 20

// APIKeyEnv returns the environment variable holding the provider's key.
func APIKeyEnv(provider string) string {
	if provider == ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

// keyPrefix is the prefix every key of the provider starts with.
func keyPrefix(provider string) string {
	if provider == ProviderOpenAI {
		return "sk-"
	}
	return "sk-ant-"
}

// resolveAPIKey finds the key for cfg's provider. The provider's
// environment variable wins over generation.api_key; an unexpanded
// ${VAR} reference in the config counts as unset.
func resolveAPIKey(cfg *Config) (string, KeySource) {
	provider := ProviderAnthropic
	if cfg != nil && cfg.Generation.Provider != "" {
		provider = cfg.Generation.Provider
	}

	if key := os.Getenv(APIKeyEnv(provider)); key != "" {
		return key, KeySourceEnv
	}
	if cfg == nil || cfg.Generation.APIKey == "" {
		return "", KeySourceNone
	}
	key := os.ExpandEnv(cfg.Generation.APIKey)
	if key == "" || strings.HasPrefix(key, "${") {
		return "", KeySourceNone
	}
	return key, KeySourceConfig
}

// GetAPIKey returns the generation API key, or ErrNoAPIKey.
func GetAPIKey(cfg *Config) (string, error) {
	key, src := resolveAPIKey(cfg)
	if src == KeySourceNone {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetAPIKeySource reports where GetAPIKey would find the key.
func GetAPIKeySource(cfg *Config) KeySource {
	_, src := resolveAPIKey(cfg)
	return src
}

// ValidateAPIKey checks the key's shape for provider. It does not call
// the provider.
func ValidateAPIKey(provider, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if prefix := keyPrefix(provider); !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("invalid API key format: expected %q prefix", prefix)
	}
	if len(key) < minKeyLen {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey shortens a key for display to its first 7 and last 4
// characters. Short keys are fully hidden.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	default:
		return key[:7] + "..." + key[len(key)-4:]
	}
}
