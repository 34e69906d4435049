package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/friday/internal/config"
	"github.com/ShayCichocki/friday/internal/state"
	"github.com/ShayCichocki/friday/pkg/models"
)

var (
	statusWorkDir string
	statusLimit   int
	statusPurge   time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show checkpointed runs",
	Long: `Display runs recorded in the project's state database.

Without arguments, lists recent runs. With a run ID, shows the run and each
of its subtasks.

Use --purge to delete finished runs older than a duration, e.g. --purge 720h.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusWorkDir, "workdir", "", "Working directory whose runs to show (default: current directory)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Maximum runs to list")
	statusCmd.Flags().DurationVar(&statusPurge, "purge", 0, "Delete finished runs older than this duration")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	workDir, err := resolveWorkDir(statusWorkDir, cfg.Paths.WorkingDir)
	if err != nil {
		return err
	}

	dbPath := cfg.StateDBPath(workDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No runs yet. Run 'friday run <task>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Ensure schema is up to date
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if statusPurge > 0 {
		n, err := db.PurgeOldRuns(statusPurge)
		if err != nil {
			return fmt.Errorf("purge runs: %w", err)
		}
		fmt.Printf("Purged %d run(s) older than %s\n\n", n, statusPurge)
	}

	if len(args) == 1 {
		return displayRun(db, args[0])
	}
	return displayRecentRuns(db, statusLimit)
}

func displayRecentRuns(db *state.DB, limit int) error {
	runs, err := db.ListRuns(nil)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet. Run 'friday run <task>' to start.")
		return nil
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	fmt.Println("Recent Runs:")
	for _, r := range runs {
		elapsed := formatDuration(time.Since(r.StartedAt))
		fmt.Printf("  %s  %-9s %s ago  %s\n", r.ID, r.Status, elapsed, truncateText(r.Task, 60))
	}
	return nil
}

func displayRun(db *state.DB, runID string) error {
	r, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	fmt.Printf("Run: %s\n", r.ID)
	fmt.Printf("  Task: %s\n", r.Task)
	fmt.Printf("  Working dir: %s\n", r.WorkingDir)
	fmt.Printf("  Status: %s\n", r.Status)
	fmt.Printf("  Started: %s ago\n", formatDuration(time.Since(r.StartedAt)))
	if r.FinishedAt != nil {
		fmt.Printf("  Duration: %s\n", formatDuration(r.FinishedAt.Sub(r.StartedAt)))
	}
	if r.InputTokens > 0 || r.OutputTokens > 0 {
		fmt.Printf("  Tokens: %s in / %s out\n", formatNumber(int(r.InputTokens)), formatNumber(int(r.OutputTokens)))
	}
	if r.Error != "" {
		fmt.Printf("  Error: %s\n", firstLine(r.Error))
	}

	nodes, err := db.LoadNodes(runID)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Println("Subtasks:")
	for _, n := range nodes {
		fmt.Printf("  %s %s [%s] %s\n", statusSymbol(n.Status), n.Name, n.Type, n.Status)
		if len(n.Dependencies) > 0 {
			fmt.Printf("      after: %v\n", n.Dependencies)
		}
		if detail := nodeDetail(n); detail != "" {
			fmt.Printf("      %s\n", detail)
		}
	}

	if r.Status != state.RunSucceeded && r.Status != state.RunActive {
		fmt.Printf("\nResume with: friday resume %s\n", r.ID)
	}
	return nil
}

// nodeDetail summarizes a node's result or its last failure.
func nodeDetail(n *models.TaskNode) string {
	switch {
	case n.Status == models.NodeStatusSucceeded && n.ReturnValue != "":
		return "→ " + truncateText(n.ReturnValue, 80)
	case n.LastReasoning != "":
		return fmt.Sprintf("retries %d, replans %d: %s", n.RetryCount, n.ReplanCount, truncateText(n.LastReasoning, 80))
	}
	return ""
}
