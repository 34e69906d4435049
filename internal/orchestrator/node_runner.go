package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/internal/exec"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/internal/graph"
	"github.com/ShayCichocki/friday/internal/judge"
	"github.com/ShayCichocki/friday/internal/repair"
	"github.com/ShayCichocki/friday/internal/skills"
	"github.com/ShayCichocki/friday/pkg/models"
)

// runNode takes a Running node through one attempt: obtain code, execute,
// judge, and on failure classify and repair. It returns a non-nil error only
// when the run must end.
func (o *Orchestrator) runNode(ctx context.Context, r *run, name string) error {
	node, ok := r.g.Node(name)
	if !ok {
		return errs.Structural(errs.ErrUnknownNode, "dispatched node %q", name)
	}

	ctx, span := tracer.Start(ctx, "orchestrator.node")
	span.SetAttributes(
		attribute.String("node.name", name),
		attribute.String("node.type", string(node.Type)),
		attribute.Int("node.retry_count", node.RetryCount),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		nodeDuration.WithLabelValues(string(node.Type)).Observe(time.Since(start).Seconds())
	}()

	prereqs := prereqsOf(r.g, node)
	result, err := o.attempt(ctx, r, node, prereqs)
	if err != nil {
		span.RecordError(err)
		return o.abortNode(ctx, r, name, models.NodeStatusRunning, err)
	}

	// Code may have been filled in by the attempt.
	node, _ = r.g.Node(name)
	verdict, err := o.judge.Evaluate(ctx, node, result, r.env, dependentsOf(r.g, name))
	if err != nil {
		span.RecordError(err)
		return o.abortNode(ctx, r, name, models.NodeStatusRunning, err)
	}

	if verdict.Success {
		return o.succeed(r, node, result, verdict, time.Since(start))
	}
	return o.handleFailure(ctx, r, node, result, verdict, prereqs)
}

// attempt produces an execution result for node. QA nodes are answered by
// the generation service; everything else runs in the sandbox. A returned
// error means no result could be produced at all.
func (o *Orchestrator) attempt(ctx context.Context, r *run, node *models.TaskNode, prereqs map[string]genservice.PrereqInfo) (models.ExecutionResult, error) {
	if node.Type == models.NodeTypeQA {
		start := time.Now()
		resp, err := o.gen.Generate(ctx, genservice.KindQA, genservice.Request{
			Env:      r.env,
			Task:     node.Description,
			NodeName: node.Name,
			NodeType: string(node.Type),
			Prereqs:  prereqs,
		})
		if err != nil {
			return models.ExecutionResult{}, fmt.Errorf("answer %s: %w", node.Name, err)
		}
		return models.ExecutionResult{Output: strings.TrimSpace(resp), Duration: time.Since(start)}, nil
	}

	node, err := o.prepareCode(ctx, r, node, prereqs)
	if err != nil {
		return models.ExecutionResult{}, err
	}

	execCtx := ctx
	if o.opts.nodeTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, o.opts.nodeTimeout)
		defer cancel()
	}

	res, err := o.sandbox.Run(execCtx, exec.Request{
		Node:       node.Name,
		Type:       node.Type,
		Code:       node.Code,
		Invocation: node.Invocation,
		WorkDir:    r.env.WorkingDir,
	})
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, err
	}

	// The run is still alive, so this is the node's own failure (typically
	// the per-node timeout) and goes to the classifier like any other.
	execErr := &errs.ExecutionError{Node: node.Name, Result: res, Cause: err}
	o.logger.Log("[node] %v", execErr)
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("execution timed out after %s", o.opts.nodeTimeout)
	}
	res.ExitCode = -1
	res.Error = strings.TrimSpace(res.Error + "\n" + msg)
	return res, nil
}

// prepareCode makes sure node has code to run. Amended or resumed nodes keep
// theirs; otherwise the skill cache is consulted before generating.
func (o *Orchestrator) prepareCode(ctx context.Context, r *run, node *models.TaskNode, prereqs map[string]genservice.PrereqInfo) (*models.TaskNode, error) {
	if node.Code != "" {
		return node, nil
	}

	entry, hit, err := o.cache.Lookup(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("skill lookup for %s: %w", node.Name, err)
	}

	code, invocation, fingerprint := "", "", ""
	if hit {
		r.skillHits.Add(1)
		skillHitsTotal.Inc()
		code, invocation, fingerprint = entry.Code, entry.Invocation, entry.Fingerprint
		if needsInvocation(node.Type) {
			code, invocation, err = o.reinvoke(ctx, r, node, prereqs, entry)
			if err != nil {
				return nil, err
			}
		}
		o.logger.Log("[node] %s: reusing skill %s (score %d)", node.Name, entry.Name, entry.Score)
	} else {
		fp := skills.Fingerprint(node.Type, node.Name)
		entry, err := o.cache.GetOrGenerate(ctx, fp, func(ctx context.Context) (*models.SkillEntry, error) {
			return o.generateSkill(ctx, r, node, prereqs)
		})
		if err != nil {
			return nil, err
		}
		code, invocation = entry.Code, entry.Invocation
	}

	if err := r.g.Update(node.Name, func(n *models.TaskNode) {
		n.Code = code
		n.Invocation = invocation
		n.SkillFingerprint = fingerprint
	}); err != nil {
		return nil, err
	}
	node.Code, node.Invocation, node.SkillFingerprint = code, invocation, fingerprint
	return node, nil
}

// generateSkill asks for fresh code for node.
func (o *Orchestrator) generateSkill(ctx context.Context, r *run, node *models.TaskNode, prereqs map[string]genservice.PrereqInfo) (*models.SkillEntry, error) {
	kind := genservice.KindSkillCreate
	switch node.Type {
	case models.NodeTypePython:
		kind = genservice.KindSkillCreateInvoke
	case models.NodeTypeAPI:
		kind = genservice.KindToolUsage
	}

	resp, err := o.gen.Generate(ctx, kind, genservice.Request{
		Env:      r.env,
		Task:     node.Description,
		NodeName: node.Name,
		NodeType: string(node.Type),
		Prereqs:  prereqs,
	})
	if err != nil {
		return nil, fmt.Errorf("generate code for %s: %w", node.Name, err)
	}
	code, invocation, ok := genservice.ExtractSkill(resp, string(node.Type))
	if !ok {
		return nil, errs.Structural(errs.ErrContractViolation, "%s response for %s has no code block", kind, node.Name)
	}
	return &models.SkillEntry{
		Name:        node.Name,
		Type:        node.Type,
		Description: node.Description,
		Code:        code,
		Invocation:  invocation,
		Provenance:  node.Name,
		CreatedAt:   time.Now(),
	}, nil
}

// reinvoke adapts a cached Python or API skill to node. The cached code is
// offered as relevant code; the answer may rewrite it or only supply a new
// invocation.
func (o *Orchestrator) reinvoke(ctx context.Context, r *run, node *models.TaskNode, prereqs map[string]genservice.PrereqInfo, entry *models.SkillEntry) (code, invocation string, err error) {
	resp, err := o.gen.Generate(ctx, genservice.KindSkillCreateInvoke, genservice.Request{
		Env:          r.env,
		Task:         node.Description,
		NodeName:     node.Name,
		NodeType:     string(node.Type),
		Prereqs:      prereqs,
		RelevantCode: entry.Code,
	})
	if err != nil {
		return "", "", fmt.Errorf("invoke cached skill for %s: %w", node.Name, err)
	}

	code, invocation = entry.Code, entry.Invocation
	if c, inv, ok := genservice.ExtractSkill(resp, string(node.Type)); ok {
		code = c
		if inv != "" {
			invocation = inv
		}
	} else if inv, ok := genservice.ExtractInvoke(resp); ok {
		invocation = inv
	}
	return code, invocation, nil
}

func needsInvocation(t models.NodeType) bool {
	return t == models.NodeTypePython || t == models.NodeTypeAPI
}

// succeed records a judged success and offers the code to the skill cache.
func (o *Orchestrator) succeed(r *run, node *models.TaskNode, result models.ExecutionResult, v judge.Verdict, elapsed time.Duration) error {
	output := strings.TrimSpace(result.Output)
	if err := r.g.Update(node.Name, func(n *models.TaskNode) {
		n.ReturnValue = output
		n.Score = v.Score
		n.LastReasoning = v.Reasoning
	}); err != nil {
		return err
	}
	if err := r.g.Transition(node.Name, models.NodeStatusRunning, models.NodeStatusSucceeded); err != nil {
		return err
	}
	nodeAttemptsTotal.WithLabelValues(string(node.Type), "succeeded").Inc()

	node.ReturnValue, node.Score = output, v.Score
	if wrote, err := o.cache.Admit(node, v.Score); err != nil {
		o.logger.Log("[node] %s: skill admission failed: %v", node.Name, err)
	} else if wrote {
		o.logger.Log("[node] %s: admitted to skill cache (score %d)", node.Name, v.Score)
	}

	o.emit(r, OrchestratorEvent{
		Type:     EventTaskCompleted,
		Node:     node.Name,
		NodeType: node.Type,
		Score:    v.Score,
		Attempt:  node.RetryCount,
		Message:  output,
		Duration: elapsed,
	})
	return nil
}

// handleFailure handles a failed attempt: classify it, then amend or replan.
func (o *Orchestrator) handleFailure(ctx context.Context, r *run, node *models.TaskNode, result models.ExecutionResult, v judge.Verdict, prereqs map[string]genservice.PrereqInfo) error {
	if err := r.g.Update(node.Name, func(n *models.TaskNode) { n.LastReasoning = v.Reasoning }); err != nil {
		return err
	}
	if err := r.g.Transition(node.Name, models.NodeStatusRunning, models.NodeStatusFailed); err != nil {
		return err
	}
	nodeAttemptsTotal.WithLabelValues(string(node.Type), "failed").Inc()
	o.emit(r, OrchestratorEvent{
		Type:     EventTaskFailed,
		Node:     node.Name,
		NodeType: node.Type,
		Attempt:  node.RetryCount,
		Message:  v.Reasoning,
		Error:    &errs.ExecutionError{Node: node.Name, Result: result},
	})

	// A rejected but error-free attempt is classified on the judge's critique.
	analyzed := result
	critique := ""
	if !result.Failed() {
		critique = v.Reasoning
		analyzed.Error = "judge: " + v.Reasoning
	}
	decision, err := o.classifier.Classify(ctx, node, analyzed, r.env)
	if err != nil {
		return o.abortNode(ctx, r, node.Name, models.NodeStatusFailed, err)
	}

	outcome, err := o.repairer.Repair(ctx, r.g, node.Name, decision.Kind, repair.Failure{
		Result:    result,
		Critique:  critique,
		Reasoning: decision.Reasoning,
		Env:       r.env,
		Prereqs:   prereqs,
	})
	if err != nil {
		o.emit(r, OrchestratorEvent{Type: EventTaskFailed, Node: node.Name, NodeType: node.Type, Error: err, Message: err.Error()})
		return err
	}

	repairsTotal.WithLabelValues(string(outcome.Kind)).Inc()
	switch outcome.Kind {
	case models.RepairAmend:
		r.amends.Add(1)
		o.emit(r, OrchestratorEvent{
			Type:     EventTaskAmended,
			Node:     node.Name,
			NodeType: node.Type,
			Attempt:  node.RetryCount + 1,
			Message:  decision.Reasoning,
		})
	case models.RepairReplan:
		r.replans.Add(1)
		o.emit(r, OrchestratorEvent{
			Type:     EventTaskReplanned,
			Node:     node.Name,
			NodeType: node.Type,
			Added:    outcome.Added,
			Message:  decision.Reasoning,
		})
	}
	return nil
}

// abortNode fails a node whose attempt could not be completed. After
// cancellation the node stays Failed so a resume can retry it; any other
// error is fatal for the node and the run.
func (o *Orchestrator) abortNode(ctx context.Context, r *run, name string, from models.NodeStatus, cause error) error {
	_ = r.g.Update(name, func(n *models.TaskNode) {
		n.History = append(n.History, models.AttemptRecord{
			Attempt: len(n.History) + 1,
			Error:   cause.Error(),
			At:      time.Now(),
		})
	})
	if from == models.NodeStatusRunning {
		if err := r.g.Transition(name, models.NodeStatusRunning, models.NodeStatusFailed); err != nil {
			o.logger.Log("[node] %s: %v", name, err)
		}
	}

	n, _ := r.g.Node(name)
	if ctx.Err() != nil {
		nodeAttemptsTotal.WithLabelValues(string(n.Type), "cancelled").Inc()
		o.emit(r, OrchestratorEvent{Type: EventTaskFailed, Node: name, NodeType: n.Type, Error: errs.ErrCancelled, Message: "cancelled"})
		if errors.Is(cause, errs.ErrCancelled) {
			return cause
		}
		return fmt.Errorf("%w: node %s: %w", errs.ErrCancelled, name, cause)
	}

	if err := r.g.Transition(name, models.NodeStatusFailed, models.NodeStatusFailedFatal); err != nil {
		o.logger.Log("[node] %s: %v", name, err)
	}
	nodeAttemptsTotal.WithLabelValues(string(n.Type), "fatal").Inc()
	o.emit(r, OrchestratorEvent{Type: EventTaskFailed, Node: name, NodeType: n.Type, Error: cause, Message: cause.Error()})
	return fmt.Errorf("node %s: %w", name, cause)
}

// prereqsOf describes node's dependencies as its generation requests see them.
func prereqsOf(g *graph.TaskGraph, node *models.TaskNode) map[string]genservice.PrereqInfo {
	out := make(map[string]genservice.PrereqInfo, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		if d, ok := g.Node(dep); ok {
			out[dep] = genservice.PrereqInfo{Description: d.Description, ReturnVal: d.ReturnValue}
		}
	}
	return out
}

func dependentsOf(g *graph.TaskGraph, name string) []*models.TaskNode {
	var out []*models.TaskNode
	for _, dep := range g.Dependents(name) {
		if n, ok := g.Node(dep); ok {
			out = append(out, n)
		}
	}
	return out
}
