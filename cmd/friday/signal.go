package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/friday/internal/config"
	"github.com/ShayCichocki/friday/internal/signals"
)

var signalWorkDir string

var signalCmd = &cobra.Command{
	Use:   "signal <pause|continue|kill>",
	Short: "Control a run in progress",
	Long: `Send a control signal to a run executing in another terminal.

  pause     stop dispatching new subtasks (running ones finish)
  continue  resume dispatching after a pause
  kill      cancel the run; it can be resumed later from its checkpoint

Signals are files under .friday/signals in the run's working directory.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pause", "continue", "kill"},
	RunE:      runSignal,
}

func init() {
	signalCmd.Flags().StringVar(&signalWorkDir, "workdir", "", "Working directory of the run (default: current directory)")
}

func runSignal(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	workDir, err := resolveWorkDir(signalWorkDir, cfg.Paths.WorkingDir)
	if err != nil {
		return err
	}
	if err := sendSignal(workDir, args[0]); err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Sent %s to %s", args[0], workDir), color.FgGreen)
	return nil
}

func sendSignal(workDir, name string) error {
	switch name {
	case "pause":
		return signals.SendPause(workDir)
	case "continue":
		return signals.SendResume(workDir)
	case "kill":
		return signals.SendKill(workDir)
	default:
		return fmt.Errorf("unknown signal %q (want pause, continue or kill)", name)
	}
}
