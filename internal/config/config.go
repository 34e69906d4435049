// Package config handles configuration loading and management for friday.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Supported generation providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config holds all configuration for friday.
type Config struct {
	Generation GenerationConfig `mapstructure:"generation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Catalogs   CatalogsConfig   `mapstructure:"catalogs"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GenerationConfig selects and tunes the generation service.
type GenerationConfig struct {
	Provider  string `mapstructure:"provider" validate:"oneof=anthropic openai"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens" validate:"gte=0"`

	// Bedrock routes Anthropic calls through AWS Bedrock.
	Bedrock       bool          `mapstructure:"bedrock"`
	AWSRegion     string        `mapstructure:"aws_region"`
	AWSProfile    string        `mapstructure:"aws_profile"`
	OpenAIBaseURL string        `mapstructure:"openai_base_url" validate:"omitempty,url"`
	MaxRetries    int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
}

// SchedulerConfig bounds execution and repair.
type SchedulerConfig struct {
	MaxConcurrency  int           `mapstructure:"max_concurrency" validate:"gte=1,lte=64"`
	NodeTimeout     time.Duration `mapstructure:"node_timeout" validate:"gte=0"`
	MaxAmendRetries int           `mapstructure:"max_amend_retries" validate:"gte=0"`
	MaxReplans      int           `mapstructure:"max_replans" validate:"gte=0"`
	// ReuseThreshold is the minimum judged score for skill cache admission.
	ReuseThreshold int `mapstructure:"reuse_threshold" validate:"gte=1,lte=10"`
}

// PathsConfig locates the working directory and on-disk stores. Empty paths
// fall back to the defaults documented on each accessor.
type PathsConfig struct {
	WorkingDir string `mapstructure:"working_dir"`
	SkillsDB   string `mapstructure:"skills_db"`
	StateDB    string `mapstructure:"state_db"`
	LogFile    string `mapstructure:"log_file"`
}

// CatalogsConfig points at the tool and API catalog files.
type CatalogsConfig struct {
	ToolsFile string `mapstructure:"tools_file"`
	APIsFile  string `mapstructure:"apis_file"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	// MetricsAddr serves /metrics when non-empty, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	// Trace writes spans to .friday/logs/trace.json under the working dir.
	Trace bool `mapstructure:"trace"`
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SkillsDBPath returns the skill library path. The library is shared across
// projects and defaults to $XDG_DATA_HOME/friday/skills.db.
func (c *Config) SkillsDBPath() string {
	if c.Paths.SkillsDB != "" {
		return c.Paths.SkillsDB
	}
	return filepath.Join(dataDir(), "friday", "skills.db")
}

// StateDBPath returns the checkpoint database path, defaulting to
// .friday/state.db under workDir.
func (c *Config) StateDBPath(workDir string) string {
	if c.Paths.StateDB != "" {
		return c.Paths.StateDB
	}
	return filepath.Join(workDir, ".friday", "state.db")
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FRIDAY_*, ANTHROPIC_API_KEY, OPENAI_API_KEY)
// 2. Project config (.friday.yaml in current directory or parent)
// 3. User config (~/.config/friday/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return decode(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("FRIDAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Generation.APIKey = expandEnv(cfg.Generation.APIKey)
	cfg.Paths.WorkingDir = expandEnv(cfg.Paths.WorkingDir)
	cfg.Paths.SkillsDB = expandEnv(cfg.Paths.SkillsDB)
	cfg.Paths.StateDB = expandEnv(cfg.Paths.StateDB)
	cfg.Paths.LogFile = expandEnv(cfg.Paths.LogFile)
	cfg.Generation.Provider = strings.ToLower(cfg.Generation.Provider)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes cfg to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("generation.provider", cfg.Generation.Provider)
	v.Set("generation.model", cfg.Generation.Model)
	v.Set("generation.api_key", cfg.Generation.APIKey)
	v.Set("generation.max_tokens", cfg.Generation.MaxTokens)
	v.Set("generation.bedrock", cfg.Generation.Bedrock)
	v.Set("generation.aws_region", cfg.Generation.AWSRegion)
	v.Set("generation.aws_profile", cfg.Generation.AWSProfile)
	v.Set("generation.openai_base_url", cfg.Generation.OpenAIBaseURL)
	v.Set("generation.max_retries", cfg.Generation.MaxRetries)
	v.Set("generation.retry_backoff", cfg.Generation.RetryBackoff.String())
	v.Set("scheduler.max_concurrency", cfg.Scheduler.MaxConcurrency)
	v.Set("scheduler.node_timeout", cfg.Scheduler.NodeTimeout.String())
	v.Set("scheduler.max_amend_retries", cfg.Scheduler.MaxAmendRetries)
	v.Set("scheduler.max_replans", cfg.Scheduler.MaxReplans)
	v.Set("scheduler.reuse_threshold", cfg.Scheduler.ReuseThreshold)
	v.Set("paths.working_dir", cfg.Paths.WorkingDir)
	v.Set("paths.skills_db", cfg.Paths.SkillsDB)
	v.Set("paths.state_db", cfg.Paths.StateDB)
	v.Set("paths.log_file", cfg.Paths.LogFile)
	v.Set("catalogs.tools_file", cfg.Catalogs.ToolsFile)
	v.Set("catalogs.apis_file", cfg.Catalogs.APIsFile)
	v.Set("telemetry.metrics_addr", cfg.Telemetry.MetricsAddr)
	v.Set("telemetry.trace", cfg.Telemetry.Trace)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("generation.provider", d.Generation.Provider)
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.max_tokens", d.Generation.MaxTokens)
	v.SetDefault("generation.bedrock", false)
	v.SetDefault("generation.aws_region", "")
	v.SetDefault("generation.aws_profile", "")
	v.SetDefault("generation.openai_base_url", "")
	v.SetDefault("generation.max_retries", d.Generation.MaxRetries)
	v.SetDefault("generation.retry_backoff", d.Generation.RetryBackoff.String())

	v.SetDefault("scheduler.max_concurrency", d.Scheduler.MaxConcurrency)
	v.SetDefault("scheduler.node_timeout", d.Scheduler.NodeTimeout.String())
	v.SetDefault("scheduler.max_amend_retries", d.Scheduler.MaxAmendRetries)
	v.SetDefault("scheduler.max_replans", d.Scheduler.MaxReplans)
	v.SetDefault("scheduler.reuse_threshold", d.Scheduler.ReuseThreshold)

	v.SetDefault("paths.working_dir", "")
	v.SetDefault("paths.skills_db", "")
	v.SetDefault("paths.state_db", "")
	v.SetDefault("paths.log_file", "")

	v.SetDefault("catalogs.tools_file", "")
	v.SetDefault("catalogs.apis_file", "")

	v.SetDefault("telemetry.metrics_addr", "")
	v.SetDefault("telemetry.trace", false)
}

// getUserConfigDir returns the XDG config directory for friday.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "friday")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "friday")
	}
	return filepath.Join(home, ".config", "friday")
}

func dataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share")
	}
	return filepath.Join(home, ".local", "share")
}

// findProjectConfig searches for .friday.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".friday.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			Provider:     ProviderAnthropic,
			MaxTokens:    8192,
			MaxRetries:   3,
			RetryBackoff: 2 * time.Second,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrency:  4,
			NodeTimeout:     5 * time.Minute,
			MaxAmendRetries: 3,
			MaxReplans:      3,
			ReuseThreshold:  7,
		},
	}
}
