package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/friday/internal/catalog"
	"github.com/ShayCichocki/friday/internal/config"
	"github.com/ShayCichocki/friday/internal/exec"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/internal/orchestrator"
	"github.com/ShayCichocki/friday/internal/signals"
	"github.com/ShayCichocki/friday/internal/skills"
	"github.com/ShayCichocki/friday/internal/state"
	"github.com/ShayCichocki/friday/internal/telemetry"
)

// sessionOptions are the command-line overrides shared by run and resume.
type sessionOptions struct {
	workDir     string
	concurrency int
	checkpoint  bool
	trace       bool
	metricsAddr string
	verbose     bool
}

// session owns everything a run needs and releases it on Close.
type session struct {
	cfg     *config.Config
	workDir string

	orch       *orchestrator.Orchestrator
	orchClosed bool
	catalog    *catalog.Catalog
	skills     *skills.SQLiteStore
	db         *state.DB
	watcher    *signals.Watcher

	shutdownTelemetry telemetry.ShutdownFunc
	closers           []func() error
}

// openSession loads config and wires the generator, sandbox, stores,
// telemetry and signal watcher into an orchestrator.
func openSession(ctx context.Context, opts sessionOptions) (s *session, retErr error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	workDir, err := resolveWorkDir(opts.workDir, cfg.Paths.WorkingDir)
	if err != nil {
		return nil, err
	}

	s = &session{cfg: cfg, workDir: workDir}
	defer func() {
		if retErr != nil {
			s.Close()
		}
	}()

	if opts.verbose {
		fmt.Printf("[DEBUG] Working dir: %s\n", workDir)
		fmt.Printf("[DEBUG] Provider: %s\n", cfg.Generation.Provider)
	}

	tcfg := telemetry.Config{
		ServiceVersion: Version(),
		MetricsAddr:    cfg.Telemetry.MetricsAddr,
	}
	if opts.metricsAddr != "" {
		tcfg.MetricsAddr = opts.metricsAddr
	}
	if opts.trace || cfg.Telemetry.Trace {
		tcfg.TracePath = telemetry.TracePath(workDir)
	}
	s.shutdownTelemetry, err = telemetry.Setup(ctx, tcfg)
	if err != nil {
		return s, fmt.Errorf("setup telemetry: %w", err)
	}

	gen, err := newGenerator(cfg)
	if err != nil {
		return s, err
	}

	s.catalog = catalog.New()
	for _, path := range []string{cfg.Catalogs.ToolsFile, cfg.Catalogs.APIsFile} {
		if err := s.catalog.LoadFile(path); err != nil {
			return s, err
		}
	}

	skillsPath := cfg.SkillsDBPath()
	if err := os.MkdirAll(filepath.Dir(skillsPath), 0755); err != nil {
		return s, fmt.Errorf("create skills directory: %w", err)
	}
	s.skills, err = skills.OpenSQLiteStore(skillsPath)
	if err != nil {
		return s, err
	}
	s.closers = append(s.closers, s.skills.Close)

	logPath := cfg.Paths.LogFile
	if logPath == "" {
		logPath = orchestrator.DefaultLogPath(workDir)
	}
	logger, err := orchestrator.NewDebugLogger(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: debug log unavailable: %v\n", err)
		logger = orchestrator.NopLogger()
	}

	sched := cfg.Scheduler
	concurrency := sched.MaxConcurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithMaxConcurrency(concurrency),
		orchestrator.WithNodeTimeout(sched.NodeTimeout),
		orchestrator.WithReuseThreshold(sched.ReuseThreshold),
		orchestrator.WithSkillStore(s.skills),
		orchestrator.WithLogger(logger),
	}
	if sched.MaxAmendRetries > 0 {
		orchOpts = append(orchOpts, orchestrator.WithMaxAmendRetries(sched.MaxAmendRetries))
	}
	if sched.MaxReplans > 0 {
		orchOpts = append(orchOpts, orchestrator.WithMaxReplans(sched.MaxReplans))
	}

	if opts.checkpoint {
		s.db, err = state.Open(cfg.StateDBPath(workDir))
		if err != nil {
			return s, fmt.Errorf("open state database: %w", err)
		}
		s.closers = append(s.closers, s.db.Close)
		if err := s.db.Migrate(); err != nil {
			return s, fmt.Errorf("migrate database: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithCheckpointStore(s.db))
	}

	sandbox := exec.NewSandbox(exec.WithTimeout(sched.NodeTimeout))
	s.orch, err = orchestrator.New(orchestrator.RequiredConfig{
		Generator: gen,
		Sandbox:   sandbox,
	}, orchOpts...)
	if err != nil {
		logger.Close()
		return s, fmt.Errorf("create orchestrator: %w", err)
	}

	s.watcher, err = signals.Watch(workDir, s.orch.PauseController())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: signal files disabled: %v\n", err)
	}

	return s, nil
}

// env builds the environment context for the session's working directory.
func (s *session) env() (genservice.Env, error) {
	return s.catalog.Env(s.workDir)
}

// closeOrchestrator ends the event stream and the debug log.
func (s *session) closeOrchestrator() {
	if s.orch != nil && !s.orchClosed {
		s.orchClosed = true
		s.orch.Close()
	}
}

// Close releases resources in reverse order of acquisition.
func (s *session) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.closeOrchestrator()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	if s.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.shutdownTelemetry(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry shutdown: %v\n", err)
		}
	}
}

// resolveWorkDir picks the flag, then the configured dir, then the current
// directory, and checks that the result is a directory.
func resolveWorkDir(flag, configured string) (string, error) {
	dir := flag
	if dir == "" {
		dir = configured
	}
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", abs)
	}
	return abs, nil
}
