// Package decompose turns a task into a graph of subtasks, and proposes new
// upstream subtasks when a node needs something the environment lacks.
package decompose

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/internal/graph"
	"github.com/ShayCichocki/friday/pkg/models"
)

// Decomposer requests subtask breakdowns from the generation service and
// validates them.
type Decomposer struct {
	gen      genservice.Generator
	debugLog func(format string, args ...interface{})
}

// New creates a new Decomposer over gen.
func New(gen genservice.Generator) *Decomposer {
	return &Decomposer{
		gen:      gen,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (d *Decomposer) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		d.debugLog = fn
	}
}

// Decompose asks for a subtask breakdown of task and builds the initial graph.
// An invalid breakdown fails with a malformed-plan error, which is fatal.
func (d *Decomposer) Decompose(ctx context.Context, task string, env genservice.Env) (*graph.TaskGraph, error) {
	resp, err := d.gen.Generate(ctx, genservice.KindDecompose, genservice.Request{Env: env, Task: task})
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	d.debugLog("[decompose] response: %d chars", len(resp))

	subtasks, err := ParseResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse decomposition response: %w", err)
	}

	nodes, result := Validate(subtasks, ValidateOptions{})
	for _, w := range result.Warnings {
		d.debugLog("[decompose] warning: %s", w)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("validate decomposition: %w", err)
	}

	g, err := graph.Build(nodes)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	d.debugLog("[decompose] %d subtasks", g.Size())
	return g, nil
}

// ReplanContext is what a replan request knows about the running graph.
type ReplanContext struct {
	Env genservice.Env
	// Prereqs describes succeeded nodes the new subtasks may build on.
	Prereqs map[string]genservice.PrereqInfo
	// Existing names every node currently in the graph.
	Existing []string
}

// Replan asks for new subtasks that supply what failing is missing. The
// result passes the same validation as Decompose, except that dependencies
// may also name existing graph nodes and the replan taxonomy's "Code" label
// is accepted. The nodes are not yet part of any graph.
func (d *Decomposer) Replan(ctx context.Context, failing *models.TaskNode, reasoning string, rc ReplanContext) ([]*models.TaskNode, error) {
	resp, err := d.gen.Generate(ctx, genservice.KindReplan, genservice.Request{
		Env:       rc.Env,
		Task:      failing.Description,
		NodeName:  failing.Name,
		NodeType:  string(failing.Type),
		Reasoning: reasoning,
		Prereqs:   rc.Prereqs,
	})
	if err != nil {
		return nil, fmt.Errorf("replan %s: %w", failing.Name, err)
	}

	subtasks, err := ParseResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse replan response: %w", err)
	}

	nodes, result := Validate(subtasks, ValidateOptions{AllowCode: true, External: rc.Existing})
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("validate replan: %w", err)
	}
	for _, n := range nodes {
		if n.HasDependency(failing.Name) {
			problem := fmt.Sprintf("subtask %q depends on the failing node %q", n.Name, failing.Name)
			return nil, fmt.Errorf("validate replan: %w", errs.MalformedPlan([]string{problem}))
		}
	}
	d.debugLog("[decompose] replan for %s: %d subtasks", failing.Name, len(nodes))
	return nodes, nil
}
