// Package classify routes a failed node attempt to a repair strategy.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/pkg/models"
)

// Decision is the classifier's routing for one failure.
type Decision struct {
	Kind      models.RepairKind
	Reasoning string
}

// Classifier asks the generation service whether a failure is the node's own
// fault (amend) or a missing environment capability (replan). There is no
// local override.
type Classifier struct {
	gen      genservice.Generator
	debugLog func(format string, args ...interface{})
}

// New creates a Classifier over gen.
func New(gen genservice.Generator) *Classifier {
	return &Classifier{
		gen:      gen,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (c *Classifier) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		c.debugLog = fn
	}
}

// Classify returns Amend or Replan for node's failed result. Any other answer
// is a contract violation.
func (c *Classifier) Classify(ctx context.Context, node *models.TaskNode, result models.ExecutionResult, env genservice.Env) (Decision, error) {
	resp, err := c.gen.Generate(ctx, genservice.KindErrorAnalysis, genservice.Request{
		Env:        env,
		Task:       node.Description,
		NodeName:   node.Name,
		NodeType:   string(node.Type),
		Code:       node.Code,
		Invocation: node.Invocation,
		Output:     result.Output,
		Error:      result.Error,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("classify %s: %w", node.Name, err)
	}

	d, err := ParseDecision(resp)
	if err != nil {
		return Decision{}, fmt.Errorf("classify %s: %w", node.Name, err)
	}
	c.debugLog("[classify] %s: %s (%s)", node.Name, d.Kind, d.Reasoning)
	return d, nil
}

type analysis struct {
	Reasoning string `json:"reasoning"`
	Type      string `json:"type"`
}

// ParseDecision parses a {reasoning, type} response. "planning" is accepted
// as a synonym of "replan".
func ParseDecision(response string) (Decision, error) {
	var a analysis
	if err := genservice.ExtractJSON(response, &a); err != nil {
		return Decision{}, errs.Structural(errs.ErrContractViolation, "error analysis: %v", err)
	}

	d := Decision{Reasoning: strings.TrimSpace(a.Reasoning)}
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "amend":
		d.Kind = models.RepairAmend
	case "replan", "planning":
		d.Kind = models.RepairReplan
	default:
		return Decision{}, errs.Structural(errs.ErrContractViolation, "error analysis type %q is neither amend nor replan", a.Type)
	}
	return d, nil
}
