// Package judge decides whether a completed node achieved its task.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/pkg/models"
)

// Score bounds.
const (
	MinScore = 1
	MaxScore = 10
)

// Verdict is the outcome of judging one attempt.
type Verdict struct {
	// Success is true when the node achieved its task.
	Success bool
	// Score is the generality of the node's code, 1-10. It only affects
	// skill cache admission.
	Score int
	// Reasoning explains the verdict. It becomes the critique for an amend.
	Reasoning string
	// Local is true when the verdict was reached without a generation call.
	Local bool
}

// Judge evaluates node results through the generation service after local
// structural checks.
type Judge struct {
	gen      genservice.Generator
	debugLog func(format string, args ...interface{})
}

// New creates a Judge over gen.
func New(gen genservice.Generator) *Judge {
	return &Judge{
		gen:      gen,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (j *Judge) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		j.debugLog = fn
	}
}

// Evaluate judges node's result. dependents are the nodes that depend on
// node; if any of them textually requires node's return value and the result
// carries none, the attempt fails without consulting the generation service.
func (j *Judge) Evaluate(ctx context.Context, node *models.TaskNode, result models.ExecutionResult, env genservice.Env, dependents []*models.TaskNode) (Verdict, error) {
	if result.Failed() {
		reason := strings.TrimSpace(result.Error)
		if reason == "" {
			reason = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		return Verdict{Reasoning: "execution failed: " + reason, Local: true}, nil
	}

	if strings.TrimSpace(result.Output) == "" {
		for _, dep := range dependents {
			if RequiresResult(dep, node.Name) {
				j.debugLog("[judge] %s: empty return value required by %s", node.Name, dep.Name)
				return Verdict{
					Reasoning: fmt.Sprintf("task %q needs the result of %q, but it returned nothing", dep.Name, node.Name),
					Local:     true,
				}, nil
			}
		}
	}

	next := make([]string, 0, len(dependents))
	for _, dep := range dependents {
		next = append(next, dep.Description)
	}

	resp, err := j.gen.Generate(ctx, genservice.KindJudge, genservice.Request{
		Env:       env,
		Task:      node.Description,
		NodeName:  node.Name,
		NodeType:  string(node.Type),
		Code:      node.Code,
		Output:    result.Output,
		NextTasks: next,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("judge %s: %w", node.Name, err)
	}

	v, err := ParseVerdict(resp)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge %s: %w", node.Name, err)
	}
	j.debugLog("[judge] %s: success=%v score=%d", node.Name, v.Success, v.Score)
	return v, nil
}

var resultPhrases = []string{
	"return value",
	"returned value",
	"result of",
	"results of",
	"output of",
	"previous task",
	"previous step",
	"prerequisite",
}

// minNameMatch is the shortest node name matched by mention. Shorter names
// such as "a" or "x" read as ordinary words.
const minNameMatch = 3

// RequiresResult reports whether dependent's description refers to the result
// of the node called name. Naming the node counts: its identifier always, and
// a multi-word name also with spaces for underscores. A generic phrase such as
// "output of" counts only when name is the dependent's sole dependency.
func RequiresResult(dependent *models.TaskNode, name string) bool {
	desc := strings.ToLower(dependent.Description)
	if n := strings.ToLower(name); len(n) >= minNameMatch {
		if containsWord(desc, n) {
			return true
		}
		if strings.Contains(n, "_") && containsWord(desc, strings.ReplaceAll(n, "_", " ")) {
			return true
		}
	}
	if len(dependent.Dependencies) != 1 || dependent.Dependencies[0] != name {
		return false
	}
	for _, p := range resultPhrases {
		if strings.Contains(desc, p) {
			return true
		}
	}
	return false
}

func containsWord(s, word string) bool {
	if word == "" {
		return false
	}
	re, err := regexp.Compile(`(^|[^a-z0-9_])` + regexp.QuoteMeta(word) + `($|[^a-z0-9_])`)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

type judgeResponse struct {
	Reasoning string          `json:"reasoning"`
	Judge     json.RawMessage `json:"judge"`
	Score     json.RawMessage `json:"score"`
}

// ParseVerdict parses a {reasoning, judge, score} response. The judgment may
// be a boolean or a "true"/"false" string; the score is clamped to 1-10.
func ParseVerdict(response string) (Verdict, error) {
	var r judgeResponse
	if err := genservice.ExtractJSON(response, &r); err != nil {
		return Verdict{}, errs.Structural(errs.ErrContractViolation, "judge response: %v", err)
	}
	ok, err := parseBool(r.Judge)
	if err != nil {
		return Verdict{}, errs.Structural(errs.ErrContractViolation, "judge response: %v", err)
	}
	return Verdict{
		Success:   ok,
		Score:     clamp(parseScore(r.Score)),
		Reasoning: strings.TrimSpace(r.Reasoning),
	}, nil
}

func parseBool(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, fmt.Errorf("missing judge field")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			return true, nil
		case "false", "no":
			return false, nil
		}
	}
	return false, fmt.Errorf("judge field %s is not a boolean", string(raw))
}

func parseScore(raw json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
