package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "friday",
	Short: "Task-graph orchestration over a generation service",
	Long: `Friday turns a natural-language task into a graph of small subtasks,
generates code for each one, runs it in a local sandbox and judges the result.

Core capabilities:
- Decomposes a task into a dependency graph of Python, Shell, AppleScript,
  API and QA nodes
- Runs independent nodes concurrently, passing return values downstream
- Repairs failures by amending code or splicing in new prerequisite nodes
- Reuses proven code from a persistent skill library
- Checkpoints runs so they can be resumed`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
