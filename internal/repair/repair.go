// Package repair applies amend and replan repairs to failed nodes.
//
// Amend regenerates a node's code in place and consumes the node's amend
// budget. Replan splices new upstream nodes before the failing node and
// consumes a separate replan budget; it never resets the amend counter.
// Exhausting either budget moves the node to FailedFatal.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ShayCichocki/friday/internal/decompose"
	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/internal/graph"
	"github.com/ShayCichocki/friday/pkg/models"
)

// Default budgets.
const (
	DefaultMaxAmendRetries = 3
	DefaultMaxReplans      = 3
)

// Replanner proposes new upstream nodes for a failing node.
type Replanner interface {
	Replan(ctx context.Context, failing *models.TaskNode, reasoning string, rc decompose.ReplanContext) ([]*models.TaskNode, error)
}

// Failure describes the failed attempt being repaired.
type Failure struct {
	// Result is the executor's result for the attempt.
	Result models.ExecutionResult
	// Critique is the judge's reasoning when the attempt ran but was rejected.
	Critique string
	// Reasoning is the classifier's reasoning.
	Reasoning string
	// Env is the run's environment context.
	Env genservice.Env
	// Prereqs describes the node's succeeded dependencies.
	Prereqs map[string]genservice.PrereqInfo
}

// Outcome reports what a repair did.
type Outcome struct {
	Kind models.RepairKind
	// Added names the nodes spliced by a replan.
	Added []string
	// Renamed maps proposed names to the names actually used.
	Renamed map[string]string
}

// Repairer mutates the graph to repair failed nodes. Graph mutations are
// applied through the graph's own locking; no lock is held while the
// generation service is consulted.
type Repairer struct {
	gen             genservice.Generator
	replanner       Replanner
	maxAmendRetries int
	maxReplans      int
	now             func() time.Time
	debugLog        func(format string, args ...interface{})
}

// New creates a Repairer. Non-positive budgets select the defaults.
func New(gen genservice.Generator, replanner Replanner, maxAmendRetries, maxReplans int) *Repairer {
	if maxAmendRetries <= 0 {
		maxAmendRetries = DefaultMaxAmendRetries
	}
	if maxReplans <= 0 {
		maxReplans = DefaultMaxReplans
	}
	return &Repairer{
		gen:             gen,
		replanner:       replanner,
		maxAmendRetries: maxAmendRetries,
		maxReplans:      maxReplans,
		now:             time.Now,
		debugLog:        func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (r *Repairer) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// MaxAmendRetries returns the amend budget.
func (r *Repairer) MaxAmendRetries() int { return r.maxAmendRetries }

// MaxReplans returns the replan budget.
func (r *Repairer) MaxReplans() int { return r.maxReplans }

// Repair routes a Failed node to the branch named by kind. On success the
// node is Pending again. Any error ends the run: the node is FailedFatal,
// except after cancellation, which leaves it mid-repair for a resume.
func (r *Repairer) Repair(ctx context.Context, g *graph.TaskGraph, name string, kind models.RepairKind, f Failure) (Outcome, error) {
	switch kind {
	case models.RepairAmend:
		return r.Amend(ctx, g, name, f)
	case models.RepairReplan:
		return r.Replan(ctx, g, name, f)
	default:
		err := errs.Structural(errs.ErrContractViolation, "unknown repair kind %q", kind)
		r.fail(g, name, models.NodeStatusFailed, kind, f, err)
		return Outcome{}, err
	}
}

// Amend regenerates code and invocation for a Failed node, increments its
// retry counter and re-queues it. A node whose counter has reached the budget
// becomes FailedFatal with a BudgetExceededError.
func (r *Repairer) Amend(ctx context.Context, g *graph.TaskGraph, name string, f Failure) (Outcome, error) {
	out := Outcome{Kind: models.RepairAmend}
	node, ok := g.Node(name)
	if !ok {
		return out, errs.Structural(errs.ErrUnknownNode, "amend of %q", name)
	}

	if node.RetryCount >= r.maxAmendRetries {
		err := &errs.BudgetExceededError{Node: name, Repair: models.RepairAmend, Budget: r.maxAmendRetries}
		log.Printf("[repair] node %s: amend budget (%d) exhausted", name, r.maxAmendRetries)
		r.fail(g, name, models.NodeStatusFailed, models.RepairAmend, f, err)
		return out, err
	}

	if err := g.Transition(name, models.NodeStatusFailed, models.NodeStatusAmending); err != nil {
		return out, err
	}

	code, invocation := node.Code, node.Invocation
	if node.Type != models.NodeTypeQA {
		resp, err := r.gen.Generate(ctx, genservice.KindSkillAmend, genservice.Request{
			Env:        f.Env,
			Task:       node.Description,
			NodeName:   node.Name,
			NodeType:   string(node.Type),
			Prereqs:    f.Prereqs,
			Code:       node.Code,
			Invocation: node.Invocation,
			Output:     f.Result.Output,
			Error:      f.Result.Error,
			Critique:   f.Critique,
		})
		if err != nil {
			return out, r.abort(ctx, g, name, models.NodeStatusAmending, models.RepairAmend, f, fmt.Errorf("amend %s: %w", name, err))
		}
		newCode, newInvocation, ok := genservice.ExtractSkill(resp, string(node.Type))
		if !ok {
			err := errs.Structural(errs.ErrContractViolation, "amend of %s returned no code block", name)
			r.fail(g, name, models.NodeStatusAmending, models.RepairAmend, f, err)
			return out, err
		}
		code = newCode
		if newInvocation != "" {
			invocation = newInvocation
		}
	}

	if err := g.Update(name, func(n *models.TaskNode) {
		n.Code = code
		n.Invocation = invocation
		n.SkillFingerprint = ""
		n.ReturnValue = ""
		n.RetryCount++
		n.LastReasoning = f.reasoning()
		n.History = append(n.History, r.record(n, models.RepairAmend, f, nil))
	}); err != nil {
		return out, err
	}
	if err := g.Transition(name, models.NodeStatusAmending, models.NodeStatusPending); err != nil {
		return out, err
	}
	r.debugLog("[repair] amended %s (retry %d/%d)", name, node.RetryCount+1, r.maxAmendRetries)
	return out, nil
}

// Replan asks for new upstream nodes, splices them before the Failed node and
// re-queues it. It consumes the replan budget only.
func (r *Repairer) Replan(ctx context.Context, g *graph.TaskGraph, name string, f Failure) (Outcome, error) {
	out := Outcome{Kind: models.RepairReplan}
	node, ok := g.Node(name)
	if !ok {
		return out, errs.Structural(errs.ErrUnknownNode, "replan of %q", name)
	}

	if node.ReplanCount >= r.maxReplans {
		err := &errs.BudgetExceededError{Node: name, Repair: models.RepairReplan, Budget: r.maxReplans}
		log.Printf("[repair] node %s: replan budget (%d) exhausted", name, r.maxReplans)
		r.fail(g, name, models.NodeStatusFailed, models.RepairReplan, f, err)
		return out, err
	}

	if err := g.Transition(name, models.NodeStatusFailed, models.NodeStatusReplanPending); err != nil {
		return out, err
	}

	rc := decompose.ReplanContext{Env: f.Env, Prereqs: make(map[string]genservice.PrereqInfo)}
	for _, n := range g.Nodes() {
		rc.Existing = append(rc.Existing, n.Name)
		if n.Status == models.NodeStatusSucceeded {
			rc.Prereqs[n.Name] = genservice.PrereqInfo{Description: n.Description, ReturnVal: n.ReturnValue}
		}
	}

	proposed, err := r.replanner.Replan(ctx, node, f.Reasoning, rc)
	if err != nil {
		return out, r.abort(ctx, g, name, models.NodeStatusReplanPending, models.RepairReplan, f, err)
	}

	// Rename against the graph at splice time: a sibling replan may have
	// claimed a proposed name since rc was built.
	var renamed map[string]string
	added, err := g.SpliceBeforeFunc(name, func(existing []string) []*models.TaskNode {
		var nodes []*models.TaskNode
		nodes, renamed = Rename(proposed, existing)
		return nodes
	})
	if err != nil {
		r.fail(g, name, models.NodeStatusReplanPending, models.RepairReplan, f, err)
		return out, err
	}
	for _, n := range added {
		out.Added = append(out.Added, n.Name)
	}
	out.Renamed = renamed

	if err := g.Update(name, func(n *models.TaskNode) {
		n.ReplanCount++
		n.LastReasoning = f.reasoning()
		n.History = append(n.History, r.record(n, models.RepairReplan, f, nil))
	}); err != nil {
		return out, err
	}
	if err := g.Transition(name, models.NodeStatusReplanPending, models.NodeStatusPending); err != nil {
		return out, err
	}
	r.debugLog("[repair] replanned %s: spliced %v", name, out.Added)
	return out, nil
}

// Rename resolves collisions between proposed node names and existing ones by
// suffixing _2, _3, ... and remaps dependencies among the proposed nodes. A
// dependency naming both a proposed and an existing node refers to the
// proposed one. The input nodes are not modified.
func Rename(proposed []*models.TaskNode, existing []string) ([]*models.TaskNode, map[string]string) {
	taken := make(map[string]bool, len(existing)+len(proposed))
	for _, name := range existing {
		taken[name] = true
	}

	renamed := make(map[string]string)
	mapping := make(map[string]string, len(proposed))
	out := make([]*models.TaskNode, 0, len(proposed))
	for _, p := range proposed {
		n := p.Clone()
		name := n.Name
		for i := 2; taken[name]; i++ {
			name = n.Name + "_" + strconv.Itoa(i)
		}
		if name != n.Name {
			renamed[n.Name] = name
		}
		taken[name] = true
		mapping[n.Name] = name
		n.Name = name
		out = append(out, n)
	}

	for _, n := range out {
		for i, dep := range n.Dependencies {
			if to, ok := mapping[dep]; ok {
				n.Dependencies[i] = to
			}
		}
	}
	return out, renamed
}

// abort handles an error from an external call made mid-repair. A cancelled
// context leaves the node in its intermediate status so a resume can reset it;
// anything else is fatal for the node.
func (r *Repairer) abort(ctx context.Context, g *graph.TaskGraph, name string, from models.NodeStatus, kind models.RepairKind, f Failure, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", errs.ErrCancelled, err)
	}
	r.fail(g, name, from, kind, f, err)
	return err
}

func (r *Repairer) fail(g *graph.TaskGraph, name string, from models.NodeStatus, kind models.RepairKind, f Failure, cause error) {
	_ = g.Update(name, func(n *models.TaskNode) {
		n.LastReasoning = f.reasoning()
		n.History = append(n.History, r.record(n, kind, f, cause))
	})
	if err := g.Transition(name, from, models.NodeStatusFailedFatal); err != nil {
		r.debugLog("[repair] %s: %v", name, err)
	}
}

func (r *Repairer) record(n *models.TaskNode, kind models.RepairKind, f Failure, cause error) models.AttemptRecord {
	msg := strings.TrimSpace(f.Result.Error)
	if cause != nil && !errors.Is(cause, errs.ErrExecution) {
		if msg != "" {
			msg += "; "
		}
		msg += cause.Error()
	}
	return models.AttemptRecord{
		Attempt:   len(n.History) + 1,
		Error:     msg,
		Reasoning: f.reasoning(),
		Repair:    kind,
		At:        r.now(),
	}
}

func (f Failure) reasoning() string {
	if f.Reasoning != "" {
		return f.Reasoning
	}
	return f.Critique
}
