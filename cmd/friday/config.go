package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/friday/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify friday configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/friday/config.yaml
Project-specific overrides can be placed in .friday.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			for _, key := range configKeys {
				value, _ := getConfigValue(cfg, key)
				fmt.Printf("%s: %s\n", key, value)
			}
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

// configKeys lists the keys shown by 'friday config', in display order.
var configKeys = []string{
	"generation.provider",
	"generation.model",
	"generation.api_key",
	"generation.max_tokens",
	"generation.bedrock",
	"generation.max_retries",
	"generation.retry_backoff",
	"scheduler.max_concurrency",
	"scheduler.node_timeout",
	"scheduler.max_amend_retries",
	"scheduler.max_replans",
	"scheduler.reuse_threshold",
	"paths.working_dir",
	"paths.skills_db",
	"paths.state_db",
	"catalogs.tools_file",
	"catalogs.apis_file",
	"telemetry.metrics_addr",
	"telemetry.trace",
}

// setConfigKey sets a configuration value and saves the user config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if strings.EqualFold(key, "generation.api_key") {
		if err := config.ValidateAPIKey(cfg.Generation.Provider, value); err != nil && !strings.HasPrefix(value, "${") {
			fmt.Printf("Warning: %v\n", err)
		}
		value = config.MaskAPIKey(value)
	}
	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "generation.provider":
		return cfg.Generation.Provider, nil
	case "generation.model":
		return orUnset(cfg.Generation.Model), nil
	case "generation.api_key":
		apiKey, err := config.GetAPIKey(cfg)
		if err != nil {
			return "(not set)", nil
		}
		return fmt.Sprintf("%s (%s)", config.MaskAPIKey(apiKey), config.GetAPIKeySource(cfg)), nil
	case "generation.max_tokens":
		return strconv.Itoa(cfg.Generation.MaxTokens), nil
	case "generation.bedrock":
		return strconv.FormatBool(cfg.Generation.Bedrock), nil
	case "generation.max_retries":
		return strconv.Itoa(cfg.Generation.MaxRetries), nil
	case "generation.retry_backoff":
		return cfg.Generation.RetryBackoff.String(), nil
	case "scheduler.max_concurrency":
		return strconv.Itoa(cfg.Scheduler.MaxConcurrency), nil
	case "scheduler.node_timeout":
		return cfg.Scheduler.NodeTimeout.String(), nil
	case "scheduler.max_amend_retries":
		return strconv.Itoa(cfg.Scheduler.MaxAmendRetries), nil
	case "scheduler.max_replans":
		return strconv.Itoa(cfg.Scheduler.MaxReplans), nil
	case "scheduler.reuse_threshold":
		return strconv.Itoa(cfg.Scheduler.ReuseThreshold), nil
	case "paths.working_dir":
		return orUnset(cfg.Paths.WorkingDir), nil
	case "paths.skills_db":
		return cfg.SkillsDBPath(), nil
	case "paths.state_db":
		return orUnset(cfg.Paths.StateDB), nil
	case "catalogs.tools_file":
		return orUnset(cfg.Catalogs.ToolsFile), nil
	case "catalogs.apis_file":
		return orUnset(cfg.Catalogs.APIsFile), nil
	case "telemetry.metrics_addr":
		return orUnset(cfg.Telemetry.MetricsAddr), nil
	case "telemetry.trace":
		return strconv.FormatBool(cfg.Telemetry.Trace), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	var err error
	switch strings.ToLower(key) {
	case "generation.provider":
		cfg.Generation.Provider = strings.ToLower(value)
	case "generation.model":
		cfg.Generation.Model = value
	case "generation.api_key":
		cfg.Generation.APIKey = value
	case "generation.max_tokens":
		cfg.Generation.MaxTokens, err = parseInt(key, value)
	case "generation.bedrock":
		cfg.Generation.Bedrock, err = parseBool(key, value)
	case "generation.max_retries":
		cfg.Generation.MaxRetries, err = parseInt(key, value)
	case "generation.retry_backoff":
		cfg.Generation.RetryBackoff, err = parseDuration(key, value)
	case "scheduler.max_concurrency":
		cfg.Scheduler.MaxConcurrency, err = parseInt(key, value)
	case "scheduler.node_timeout":
		cfg.Scheduler.NodeTimeout, err = parseDuration(key, value)
	case "scheduler.max_amend_retries":
		cfg.Scheduler.MaxAmendRetries, err = parseInt(key, value)
	case "scheduler.max_replans":
		cfg.Scheduler.MaxReplans, err = parseInt(key, value)
	case "scheduler.reuse_threshold":
		cfg.Scheduler.ReuseThreshold, err = parseInt(key, value)
	case "paths.working_dir":
		cfg.Paths.WorkingDir = value
	case "paths.skills_db":
		cfg.Paths.SkillsDB = value
	case "paths.state_db":
		cfg.Paths.StateDB = value
	case "catalogs.tools_file":
		cfg.Catalogs.ToolsFile = value
	case "catalogs.apis_file":
		cfg.Catalogs.APIsFile = value
	case "telemetry.metrics_addr":
		cfg.Telemetry.MetricsAddr = value
	case "telemetry.trace":
		cfg.Telemetry.Trace, err = parseBool(key, value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	return b, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
