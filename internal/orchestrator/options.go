package orchestrator

import (
	"time"

	"github.com/ShayCichocki/friday/internal/exec"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/internal/skills"
	"github.com/ShayCichocki/friday/internal/state"
)

const (
	// DefaultMaxConcurrency bounds in-flight nodes when no limit is configured.
	DefaultMaxConcurrency = 4
	// DefaultEventBuffer is the size of the events channel.
	DefaultEventBuffer = 100
)

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Generator is the generation service used by every component.
	Generator genservice.Generator
	// Sandbox runs generated code.
	Sandbox exec.Sandbox
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxConcurrency  int
	nodeTimeout     time.Duration
	maxAmendRetries int
	maxReplans      int
	reuseThreshold  int
	skillStore      skills.Store
	checkpoints     state.StateStore
	logger          *DebugLogger
	runID           string
	eventBuffer     int
	pauseCtrl       *PauseController
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		maxConcurrency: DefaultMaxConcurrency,
		eventBuffer:    DefaultEventBuffer,
	}
}

// WithMaxConcurrency sets the maximum number of nodes in flight at once.
func WithMaxConcurrency(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithNodeTimeout bounds each node attempt. Zero leaves the sandbox's own
// timeout in charge.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.nodeTimeout = d }
}

// WithMaxAmendRetries sets the per-node amend budget.
func WithMaxAmendRetries(n int) Option {
	return func(o *orchestratorOptions) { o.maxAmendRetries = n }
}

// WithMaxReplans sets the per-node replan budget.
func WithMaxReplans(n int) Option {
	return func(o *orchestratorOptions) { o.maxReplans = n }
}

// WithReuseThreshold sets the minimum judged score for skill cache admission.
func WithReuseThreshold(score int) Option {
	return func(o *orchestratorOptions) { o.reuseThreshold = score }
}

// WithSkillStore sets the backing store of the skill cache. The default is
// an in-memory store that lives as long as the orchestrator.
func WithSkillStore(s skills.Store) Option {
	return func(o *orchestratorOptions) { o.skillStore = s }
}

// WithCheckpointStore enables run checkpoints. Without one, runs cannot be
// resumed.
func WithCheckpointStore(s state.StateStore) Option {
	return func(o *orchestratorOptions) { o.checkpoints = s }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithRunID fixes the ID of the next run instead of generating one.
func WithRunID(id string) Option {
	return func(o *orchestratorOptions) { o.runID = id }
}

// WithEventBuffer sets the size of the events channel.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithPauseController shares a pause controller with the caller, for
// example one driven by signal files.
func WithPauseController(p *PauseController) Option {
	return func(o *orchestratorOptions) { o.pauseCtrl = p }
}
