package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/friday/internal/classify"
	"github.com/ShayCichocki/friday/internal/decompose"
	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/internal/exec"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/internal/graph"
	"github.com/ShayCichocki/friday/internal/judge"
	"github.com/ShayCichocki/friday/internal/repair"
	"github.com/ShayCichocki/friday/internal/skills"
	"github.com/ShayCichocki/friday/internal/state"
	"github.com/ShayCichocki/friday/pkg/models"
)

// Orchestrator coordinates a run from task description to final result.
// It wires together: decomposer -> graph -> scheduler -> sandbox -> judge,
// with the classifier and repairer handling failures.
type Orchestrator struct {
	gen         genservice.Generator
	sandbox     exec.Sandbox
	decomposer  *decompose.Decomposer
	cache       *skills.Cache
	judge       *judge.Judge
	classifier  *classify.Classifier
	repairer    *repair.Repairer
	checkpoints state.StateStore
	logger      *DebugLogger
	emitter     *EventEmitter
	pauseCtrl   *PauseController
	opts        orchestratorOptions

	// mu protects nextRunID.
	mu        sync.Mutex
	nextRunID string
}

// run is the state of one orchestration.
type run struct {
	id      string
	g       *graph.TaskGraph
	env     genservice.Env
	started time.Time

	amends, replans, skillHits atomic.Int64
}

// New creates an Orchestrator from the required collaborators and options.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Generator == nil {
		return nil, errors.New("orchestrator: generator is required")
	}
	if req.Sandbox == nil {
		return nil, errors.New("orchestrator: sandbox is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.skillStore == nil {
		o.skillStore = skills.NewMemoryStore()
	}
	if o.pauseCtrl == nil {
		o.pauseCtrl = NewPauseController()
	}

	decomposer := decompose.New(req.Generator)
	decomposer.SetDebugLog(o.logger.Log)
	j := judge.New(req.Generator)
	j.SetDebugLog(o.logger.Log)
	classifier := classify.New(req.Generator)
	classifier.SetDebugLog(o.logger.Log)
	repairer := repair.New(req.Generator, decomposer, o.maxAmendRetries, o.maxReplans)
	repairer.SetDebugLog(o.logger.Log)

	return &Orchestrator{
		gen:         req.Generator,
		sandbox:     req.Sandbox,
		decomposer:  decomposer,
		cache:       skills.NewCache(o.skillStore, req.Generator, o.reuseThreshold),
		judge:       j,
		classifier:  classifier,
		repairer:    repairer,
		checkpoints: o.checkpoints,
		logger:      o.logger,
		emitter:     NewEventEmitter(o.eventBuffer),
		pauseCtrl:   o.pauseCtrl,
		opts:        o,
		nextRunID:   o.runID,
	}, nil
}

// RunTask decomposes description into a task graph and executes it. The
// returned result is non-nil whenever a run was started; err is nil only
// when every node succeeded.
func (o *Orchestrator) RunTask(ctx context.Context, description string, env genservice.Env) (*models.RunResult, error) {
	r := o.newRun(env)
	ctx, span := tracer.Start(ctx, "orchestrator.RunTask")
	span.SetAttributes(attribute.String("run.id", r.id))
	defer span.End()

	in0, out0 := o.usage()
	o.logger.Log("[orchestrator] run %s: %q", r.id, description)
	if err := o.createRunState(r, description); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	g, err := o.decomposer.Decompose(ctx, description, env)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", errs.ErrCancelled, err)
		}
		r.g = graph.New()
		return o.finish(ctx, r, err, in0, out0), err
	}
	g.SetDebugLog(o.logger.Log)
	r.g = g
	o.checkpoint(r)

	err = o.runLoop(ctx, r)
	return o.finish(ctx, r, err, in0, out0), err
}

// Execute runs a graph built by the caller. The graph is used as is; a
// graph assembled with graph.Restore is not validated first, so dangling
// dependencies surface as a DeadlockError.
func (o *Orchestrator) Execute(ctx context.Context, g *graph.TaskGraph, env genservice.Env) (*models.RunResult, error) {
	r := o.newRun(env)
	r.g = g
	g.SetDebugLog(o.logger.Log)
	ctx, span := tracer.Start(ctx, "orchestrator.Execute")
	span.SetAttributes(attribute.String("run.id", r.id))
	defer span.End()

	in0, out0 := o.usage()
	if err := o.createRunState(r, ""); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.checkpoint(r)

	err := o.runLoop(ctx, r)
	return o.finish(ctx, r, err, in0, out0), err
}

// Resume continues a checkpointed run. The snapshot is validated, nodes left
// mid-flight are reset to Pending and execution picks up from the remaining
// frontier. Succeeded nodes keep their return values and are not re-run.
func (o *Orchestrator) Resume(ctx context.Context, runID string, env genservice.Env) (*models.RunResult, error) {
	if o.checkpoints == nil {
		return nil, errors.New("resume requires a checkpoint store")
	}

	rec, err := o.checkpoints.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if rec.Status == state.RunSucceeded {
		return nil, fmt.Errorf("run %s already succeeded", runID)
	}

	nodes, err := o.checkpoints.LoadNodes(runID)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("run %s has no checkpointed nodes", runID)
	}

	g := graph.Restore(nodes)
	g.SetDebugLog(o.logger.Log)
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint of run %s: %w", runID, err)
	}
	if reset := g.ResetInterrupted(); len(reset) > 0 {
		o.logger.Log("[orchestrator] run %s: reset interrupted nodes %v", runID, reset)
	}

	if env.WorkingDir == "" {
		env.WorkingDir = rec.WorkingDir
	}
	r := &run{id: runID, g: g, env: env, started: time.Now()}
	ctx, span := tracer.Start(ctx, "orchestrator.Resume")
	span.SetAttributes(attribute.String("run.id", runID))
	defer span.End()

	rec.Status = state.RunActive
	rec.Error = ""
	rec.FinishedAt = nil
	if err := o.checkpoints.UpdateRun(rec); err != nil {
		return nil, fmt.Errorf("reactivate run: %w", err)
	}
	o.checkpoint(r)

	in0, out0 := o.usage()
	err = o.runLoop(ctx, r)
	return o.finish(ctx, r, err, in0, out0), err
}

// Events returns a read-only channel of orchestrator events.
func (o *Orchestrator) Events() <-chan OrchestratorEvent {
	return o.emitter.Events()
}

// PauseController returns the controller that pauses or stops dispatch.
func (o *Orchestrator) PauseController() *PauseController {
	return o.pauseCtrl
}

// SkillStats returns the skill cache counters.
func (o *Orchestrator) SkillStats() skills.Stats {
	return o.cache.Stats()
}

// Close closes the events channel and the debug log. Stores passed in as
// options are owned by the caller and left open.
func (o *Orchestrator) Close() error {
	o.emitter.Close()
	return o.logger.Close()
}

func (o *Orchestrator) newRun(env genservice.Env) *run {
	o.mu.Lock()
	id := o.nextRunID
	o.nextRunID = ""
	o.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	return &run{id: id, env: env, started: time.Now()}
}

func (o *Orchestrator) usage() (input, output int64) {
	if u, ok := o.gen.(genservice.UsageReporter); ok {
		return u.Usage()
	}
	return 0, 0
}

func (o *Orchestrator) emit(r *run, ev OrchestratorEvent) {
	ev.RunID = r.id
	if r.g != nil {
		ev.Counts = r.g.StatusCounts()
	}
	o.emitter.Emit(ev)
}

// finish builds the run result and records the outcome everywhere it is
// reported.
func (o *Orchestrator) finish(ctx context.Context, r *run, runErr error, in0, out0 int64) *models.RunResult {
	in1, out1 := o.usage()
	input, output := in1-in0, out1-out0
	res := buildResult(r, runErr)
	res.Diagnostics.InputTokens = input
	res.Diagnostics.OutputTokens = output

	status := state.RunSucceeded
	outcome := "succeeded"
	switch {
	case errors.Is(runErr, errs.ErrCancelled):
		status, outcome = state.RunCanceled, "cancelled"
	case runErr != nil:
		status, outcome = state.RunFailed, "failed"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	o.checkpoint(r)
	o.finishRunState(r, status, runErr, input, output)

	if runErr != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	msg := fmt.Sprintf("run %s %s in %s", r.id, outcome, res.Diagnostics.Duration.Round(time.Millisecond))
	o.logger.Log("[orchestrator] %s", msg)
	o.emit(r, OrchestratorEvent{
		Type:     EventRunDone,
		Node:     res.Diagnostics.FailedNode,
		Message:  msg,
		Error:    runErr,
		Duration: res.Diagnostics.Duration,
	})
	return res
}

// buildResult maps the final graph onto a RunResult.
func buildResult(r *run, runErr error) *models.RunResult {
	res := &models.RunResult{
		RunID:   r.id,
		Success: runErr == nil,
		Outputs: make(map[string]models.NodeOutput),
	}
	nodes := r.g.Nodes()
	for _, n := range nodes {
		res.Outputs[n.Name] = models.NodeOutput{
			Name:        n.Name,
			Type:        n.Type,
			Status:      n.Status,
			ReturnValue: n.ReturnValue,
			RetryCount:  n.RetryCount,
			ReplanCount: n.ReplanCount,
			Score:       n.Score,
		}
	}

	d := models.Diagnostics{
		Order:     slices.Collect(r.g.TopologicalOrder()),
		Amends:    int(r.amends.Load()),
		Replans:   int(r.replans.Load()),
		SkillHits: int(r.skillHits.Load()),
		Duration:  time.Since(r.started),
	}
	if runErr != nil {
		d.Error = runErr.Error()
		if name := failingNode(nodes, runErr); name != "" {
			d.FailedNode = name
			if n, ok := r.g.Node(name); ok {
				d.History = n.History
				d.LastReasoning = n.LastReasoning
			}
		}
	}
	res.Diagnostics = d
	return res
}

// failingNode picks the node a failed run is reported against.
func failingNode(nodes []*models.TaskNode, runErr error) string {
	var budget *errs.BudgetExceededError
	if errors.As(runErr, &budget) {
		return budget.Node
	}
	var deadlock *errs.DeadlockError
	if errors.As(runErr, &deadlock) && len(deadlock.Pending) > 0 {
		return deadlock.Pending[0]
	}
	for _, want := range []models.NodeStatus{models.NodeStatusFailedFatal, models.NodeStatusFailed} {
		for _, n := range nodes {
			if n.Status == want {
				return n.Name
			}
		}
	}
	return ""
}
