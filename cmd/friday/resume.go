package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/friday/pkg/models"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a checkpointed run",
	Long: `Resume a run that failed, was cancelled or was interrupted.

Subtasks that already succeeded keep their return values and are not run
again. Subtasks left mid-attempt are reset and retried.

Run 'friday status' to list runs.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	addSessionFlags(resumeCmd)
	resumeCmd.Flags().Lookup("checkpoint").Hidden = true
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	ctx, cancel := interruptContext()
	defer cancel()

	opts := currentSessionOptions()
	opts.checkpoint = true
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.db.GetRun(runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("run %s not found in %s", runID, s.db.Path())
	}

	// The run's own directory wins over the one used to locate the database.
	if rec.WorkingDir != "" && rec.WorkingDir != s.workDir {
		s.workDir = rec.WorkingDir
	}
	env, err := s.env()
	if err != nil {
		return err
	}

	return execute(ctx, cancel, s, rec.Task, func(ctx context.Context) (*models.RunResult, error) {
		return s.orch.Resume(ctx, runID, env)
	})
}
