package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/friday/internal/state"
	"github.com/ShayCichocki/friday/pkg/models"
)

var (
	runTUI         bool
	runWorkDir     string
	runConcurrency int
	runCheckpoint  bool
	runTrace       bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Decompose a task and run it as a graph of generated subtasks",
	Long: `Run a task end to end.

The task is decomposed into a graph of subtasks. Each subtask gets generated
code (or a reused skill from the library), runs in a local sandbox, and is
judged. Failures are repaired by amending the code or by adding new
prerequisite subtasks.

Control a running task from another shell:
  touch .friday/signals/pause   # stop dispatching new subtasks
  rm .friday/signals/pause      # resume
  touch .friday/signals/kill    # cancel the run

Examples:
  friday run "zip every PDF in reports/ into reports.zip"
  friday run --tui --concurrency 2 "summarize notes.txt into summary.md"
  friday run --workdir ./sandbox --metrics-addr :9090 "..."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	addSessionFlags(runCmd)
}

// addSessionFlags registers the flags shared by run and resume.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live run view")
	cmd.Flags().StringVar(&runWorkDir, "workdir", "", "Working directory for generated code (default: current directory)")
	cmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Maximum subtasks in flight (default: scheduler.max_concurrency)")
	cmd.Flags().BoolVar(&runCheckpoint, "checkpoint", true, "Checkpoint the run so it can be resumed")
	cmd.Flags().BoolVar(&runTrace, "trace", false, "Write spans to .friday/logs/trace.json")
	cmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

func currentSessionOptions() sessionOptions {
	return sessionOptions{
		workDir:     runWorkDir,
		concurrency: runConcurrency,
		checkpoint:  runCheckpoint,
		trace:       runTrace,
		metricsAddr: runMetricsAddr,
		verbose:     os.Getenv("FRIDAY_DEBUG") != "",
	}
}

func runTask(cmd *cobra.Command, args []string) (retErr error) {
	// Recover from panics and report them
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runTask: %v", r)
		}
	}()

	task := strings.Join(args, " ")

	ctx, cancel := interruptContext()
	defer cancel()

	s, err := openSession(ctx, currentSessionOptions())
	if err != nil {
		return err
	}
	defer s.Close()

	if s.db != nil {
		reportInterrupted(s.db)
	}

	env, err := s.env()
	if err != nil {
		return err
	}

	return execute(ctx, cancel, s, task, func(ctx context.Context) (*models.RunResult, error) {
		return s.orch.RunTask(ctx, task, env)
	})
}

// runFunc starts or continues a run.
type runFunc func(ctx context.Context) (*models.RunResult, error)

// execute drives fn with the TUI or the headless printer.
func execute(ctx context.Context, cancel context.CancelFunc, s *session, title string, fn runFunc) error {
	if runTUI {
		return runWithTUI(ctx, cancel, s, fn)
	}

	printed := make(chan struct{})
	go func() {
		consumeEventsHeadless(os.Stdout, s.orch.Events())
		close(printed)
	}()

	fmt.Printf("Starting task: %s\n", title)
	fmt.Printf("  Working dir: %s\n", s.workDir)
	fmt.Printf("  Max concurrency: %d\n", effectiveConcurrency(s))
	fmt.Println()

	res, err := fn(ctx)

	// Closing the orchestrator ends the event stream so the printer drains
	// before the summary.
	s.closeOrchestrator()
	<-printed

	printRunSummary(os.Stdout, res, err, s.db != nil)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func effectiveConcurrency(s *session) int {
	if runConcurrency > 0 {
		return runConcurrency
	}
	return s.cfg.Scheduler.MaxConcurrency
}

// interruptContext returns a context cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// reportInterrupted points at a run left active by a previous process.
func reportInterrupted(db *state.DB) {
	info, err := state.NewRecoveryManager(db).CheckForInterrupted()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: interrupted run check failed: %v\n", err)
		return
	}
	if info == nil {
		return
	}
	fmt.Printf("Found interrupted run %s (%q, %d of its nodes unfinished).\n",
		info.RunID, truncateText(info.Task, 60), info.Remaining)
	fmt.Printf("Resume it with: friday resume %s\n\n", info.RunID)
}
