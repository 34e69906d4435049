package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Generation.Provider != ProviderAnthropic {
		t.Errorf("expected default provider 'anthropic', got %q", cfg.Generation.Provider)
	}

	if cfg.Scheduler.MaxConcurrency != 4 {
		t.Errorf("expected max concurrency 4, got %d", cfg.Scheduler.MaxConcurrency)
	}

	if cfg.Scheduler.MaxAmendRetries != 3 || cfg.Scheduler.MaxReplans != 3 {
		t.Errorf("expected amend and replan budgets of 3, got %d and %d",
			cfg.Scheduler.MaxAmendRetries, cfg.Scheduler.MaxReplans)
	}

	if cfg.Scheduler.NodeTimeout != 5*time.Minute {
		t.Errorf("expected node timeout 5m, got %v", cfg.Scheduler.NodeTimeout)
	}

	if cfg.Scheduler.ReuseThreshold != 7 {
		t.Errorf("expected reuse threshold 7, got %d", cfg.Scheduler.ReuseThreshold)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TEST_FRIDAY_KEY", "sk-from-env")
	configContent := `
generation:
  provider: OpenAI
  model: gpt-4o
  api_key: ${TEST_FRIDAY_KEY}
  openai_base_url: https://example.com/v1
  retry_backoff: 500ms
scheduler:
  max_concurrency: 8
  node_timeout: 90s
  max_replans: 1
catalogs:
  tools_file: tools.yaml
telemetry:
  metrics_addr: localhost:9090
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Generation.Provider != ProviderOpenAI {
		t.Errorf("expected provider 'openai', got %q", cfg.Generation.Provider)
	}

	if cfg.Generation.APIKey != "sk-from-env" {
		t.Errorf("expected expanded api_key, got %q", cfg.Generation.APIKey)
	}

	if cfg.Generation.RetryBackoff != 500*time.Millisecond {
		t.Errorf("expected retry backoff 500ms, got %v", cfg.Generation.RetryBackoff)
	}

	if cfg.Scheduler.MaxConcurrency != 8 {
		t.Errorf("expected max concurrency 8, got %d", cfg.Scheduler.MaxConcurrency)
	}

	if cfg.Scheduler.NodeTimeout != 90*time.Second {
		t.Errorf("expected node timeout 90s, got %v", cfg.Scheduler.NodeTimeout)
	}

	if cfg.Scheduler.MaxReplans != 1 {
		t.Errorf("expected max replans 1, got %d", cfg.Scheduler.MaxReplans)
	}

	// Unset keys keep their defaults.
	if cfg.Scheduler.MaxAmendRetries != 3 {
		t.Errorf("expected default amend budget 3, got %d", cfg.Scheduler.MaxAmendRetries)
	}

	if cfg.Catalogs.ToolsFile != "tools.yaml" {
		t.Errorf("expected tools file 'tools.yaml', got %q", cfg.Catalogs.ToolsFile)
	}

	if cfg.Telemetry.MetricsAddr != "localhost:9090" {
		t.Errorf("expected metrics addr 'localhost:9090', got %q", cfg.Telemetry.MetricsAddr)
	}
}

func TestLoadFromPathRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"unknown provider", "generation:\n  provider: cohere\n", "Provider"},
		{"zero concurrency", "scheduler:\n  max_concurrency: 0\n", "MaxConcurrency"},
		{"threshold above ten", "scheduler:\n  reuse_threshold: 11\n", "ReuseThreshold"},
		{"bad base url", "generation:\n  openai_base_url: not a url\n", "OpenAIBaseURL"},
		{"bad metrics addr", "telemetry:\n  metrics_addr: nope\n", "MetricsAddr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write config file: %v", err)
			}

			_, err := LoadFromPath(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Generation.Model = "claude-sonnet-4"
	cfg.Scheduler.NodeTimeout = 2 * time.Minute
	cfg.Paths.SkillsDB = "/tmp/skills.db"

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Generation.Model != "claude-sonnet-4" {
		t.Errorf("expected model to survive, got %q", loaded.Generation.Model)
	}
	if loaded.Scheduler.NodeTimeout != 2*time.Minute {
		t.Errorf("expected node timeout 2m, got %v", loaded.Scheduler.NodeTimeout)
	}
	if loaded.SkillsDBPath() != "/tmp/skills.db" {
		t.Errorf("expected skills db path to survive, got %q", loaded.SkillsDBPath())
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	dir := getUserConfigDir()
	expected := "/custom/config/friday"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestStorePaths(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := Default()

	if got := cfg.SkillsDBPath(); got != "/data/friday/skills.db" {
		t.Errorf("SkillsDBPath() = %q", got)
	}
	if got := cfg.StateDBPath("/work"); got != "/work/.friday/state.db" {
		t.Errorf("StateDBPath() = %q", got)
	}

	cfg.Paths.StateDB = "/elsewhere/state.db"
	if got := cfg.StateDBPath("/work"); got != "/elsewhere/state.db" {
		t.Errorf("StateDBPath() with override = %q", got)
	}
}
