package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/friday/internal/config"
	"github.com/ShayCichocki/friday/internal/signals"
)

var (
	initForce       bool
	initWithCatalog bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a friday working directory",
	Long: `Initialize a directory for use with friday.

This command:
  - Checks prerequisites (python3, osascript on macOS, an API key)
  - Creates the .friday directory structure
  - Adds .friday/ to an existing .gitignore
  - Writes a .friday.yaml project config template
  - Optionally writes an example tool and API catalog

The directory argument is optional and defaults to the current directory.

Examples:
  friday init                  # Initialize current directory
  friday init ./workspace      # Initialize specific directory
  friday init --with-catalog   # Also write .friday/catalog.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initWithCatalog, "with-catalog", false, "Write an example tool and API catalog")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing friday in %s...\n\n", absPath)

	fridayDir := filepath.Join(absPath, ".friday")
	if _, err := os.Stat(fridayDir); err == nil && !initForce {
		fmt.Printf("Directory already initialized. Use --force to reinitialize.\n")
		return nil
	}

	// Prerequisites
	if path, err := exec.LookPath("python3"); err != nil {
		printStatus("✗", "python3 not found (Python and API subtasks will fail)", color.FgRed)
	} else {
		printStatus("✓", "python3 found at "+path, color.FgGreen)
	}
	if _, err := exec.LookPath("osascript"); err == nil {
		printStatus("✓", "osascript found", color.FgGreen)
	} else {
		printStatus("⚠", "osascript not found (AppleScript subtasks will fail)", color.FgYellow)
	}

	cfg, err := config.Load()
	if err != nil {
		printStatus("⚠", fmt.Sprintf("Config could not be loaded: %v", err), color.FgYellow)
		cfg = config.Default()
	}
	provider := cfg.Generation.Provider
	keyEnv := config.APIKeyEnv(provider)
	hasKey := config.GetAPIKeySource(cfg) != config.KeySourceNone
	switch {
	case provider == config.ProviderAnthropic && cfg.Generation.Bedrock:
		printStatus("✓", "Using AWS Bedrock credentials", color.FgGreen)
	case hasKey:
		printStatus("✓", fmt.Sprintf("%s API key found (%s)", provider, config.GetAPIKeySource(cfg)), color.FgGreen)
	default:
		printStatus("⚠", keyEnv+" not set (you can set it later)", color.FgYellow)
	}

	// Directory structure
	for _, dir := range []string{filepath.Join(fridayDir, "logs"), signals.Dir(absPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .friday directory structure", color.FgGreen)

	updated, err := updateGitignore(absPath)
	if err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	if updated {
		printStatus("✓", "Updated .gitignore with friday entries", color.FgGreen)
	}

	if err := createProjectConfig(absPath, initWithCatalog); err != nil {
		return fmt.Errorf("creating project config: %w", err)
	}
	printStatus("✓", "Created .friday.yaml template", color.FgGreen)

	if initWithCatalog {
		if err := createExampleCatalog(fridayDir); err != nil {
			return fmt.Errorf("creating example catalog: %w", err)
		}
		printStatus("✓", "Created example catalog in .friday/catalog.yaml", color.FgGreen)
	}

	fmt.Printf("\n%s friday initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	if !hasKey && !cfg.Generation.Bedrock {
		fmt.Printf("  export %s=...\n", keyEnv)
	}
	fmt.Println("  friday run \"describe your task here\"")
	return nil
}

// updateGitignore appends friday entries to an existing .gitignore. It
// reports whether the file changed.
func updateGitignore(dir string) (bool, error) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	data, err := os.ReadFile(gitignorePath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	existingContent := string(data)

	entry := ".friday/"
	for _, line := range strings.Split(existingContent, "\n") {
		if strings.TrimSpace(line) == entry {
			return false, nil
		}
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}
	newContent.WriteString("\n# friday\n")
	newContent.WriteString(entry + "\n")

	return true, os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

func createProjectConfig(dir string, withCatalog bool) error {
	configPath := filepath.Join(dir, ".friday.yaml")

	// Don't overwrite an existing config
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	catalogLines := `# catalogs:
#   tools_file: .friday/catalog.yaml
#   apis_file: .friday/catalog.yaml
`
	if withCatalog {
		catalogLines = `catalogs:
  tools_file: .friday/catalog.yaml
  apis_file: .friday/catalog.yaml
`
	}

	template := `# friday project configuration
# This file overrides defaults from ~/.config/friday/config.yaml

# generation:
#   provider: anthropic   # or openai
#   model: claude-sonnet-4-20250514
#   max_retries: 3

# scheduler:
#   max_concurrency: 4
#   node_timeout: 5m
#   max_amend_retries: 3
#   max_replans: 3
#   reuse_threshold: 7

` + catalogLines + `
# telemetry:
#   metrics_addr: localhost:9090
#   trace: false
`

	return os.WriteFile(configPath, []byte(template), 0644)
}

func createExampleCatalog(fridayDir string) error {
	path := filepath.Join(fridayDir, "catalog.yaml")
	if _, err := os.Stat(path); err == nil && !initForce {
		return nil
	}

	content := `# Tools and APIs that generated code may use.
tools:
  - name: zip
    description: Package files into a zip archive, e.g. zip -r out.zip dir/
  - name: pdftotext
    description: Extract the text of a PDF file to stdout.

apis:
  - name: /tools/bing/searchv2
    description: Web search. POST {"query": "...", "top_k": 5}; returns a list of results.
`
	return os.WriteFile(path, []byte(content), 0644)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
