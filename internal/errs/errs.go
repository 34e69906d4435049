// Package errs defines the orchestration error taxonomy.
//
// Structural errors (malformed plans, cycles, duplicate or unknown names,
// generation-service contract violations) and deadlocks are fatal and never
// retried. Execution errors are recoverable through amend or replan.
// Cancellation aborts the run. Budget errors fail the node and the run.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/friday/pkg/models"
)

var (
	// ErrStructural matches every StructuralError.
	ErrStructural = errors.New("structural error")
	// ErrCycleDetected indicates an edge set would create a circular dependency.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrDuplicateName indicates a node name already exists in the graph.
	ErrDuplicateName = errors.New("duplicate node name")
	// ErrUnknownNode indicates a reference to a node that is not in the graph.
	ErrUnknownNode = errors.New("unknown node")
	// ErrMalformedPlan indicates the generation service returned an invalid subtask graph.
	ErrMalformedPlan = errors.New("malformed plan")
	// ErrContractViolation indicates a generation-service response outside its documented shape.
	ErrContractViolation = errors.New("generation service contract violation")

	// ErrCancelled indicates the run was aborted.
	ErrCancelled = errors.New("run cancelled")
	// ErrDeadlock matches every DeadlockError.
	ErrDeadlock = errors.New("deadlock")
	// ErrBudgetExceeded matches every BudgetExceededError.
	ErrBudgetExceeded = errors.New("repair budget exceeded")
	// ErrExecution matches every ExecutionError.
	ErrExecution = errors.New("execution failed")
)

// StructuralError is a fatal violation of graph or plan structure.
type StructuralError struct {
	Kind error
	Msg  string
}

func (e *StructuralError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *StructuralError) Unwrap() error { return e.Kind }

// Is lets errors.Is(err, ErrStructural) match any structural kind.
func (e *StructuralError) Is(target error) bool { return target == ErrStructural }

// Structural builds a StructuralError of the given kind.
func Structural(kind error, format string, args ...any) error {
	return &StructuralError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Cycle builds a cycle error naming the offending path.
func Cycle(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &StructuralError{Kind: ErrCycleDetected, Msg: msg}
}

// MalformedPlan wraps a list of validation problems into a single error.
func MalformedPlan(problems []string) error {
	return &StructuralError{Kind: ErrMalformedPlan, Msg: strings.Join(problems, "; ")}
}

// ExecutionError is a recoverable failure of a node attempt.
type ExecutionError struct {
	Node   string
	Result models.ExecutionResult
	// Cause is set for executor infrastructure failures such as timeouts.
	Cause error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("node %s: %v", e.Node, e.Cause)
	case e.Result.Error != "":
		return fmt.Sprintf("node %s: %s", e.Node, firstLine(e.Result.Error))
	default:
		return fmt.Sprintf("node %s: exit code %d", e.Node, e.Result.ExitCode)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// DeadlockError reports Pending nodes that can never become Ready.
type DeadlockError struct {
	Pending  []string
	Snapshot []*models.TaskNode
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock: no ready nodes while %d remain pending (%s)",
		len(e.Pending), strings.Join(e.Pending, ", "))
}

func (e *DeadlockError) Is(target error) bool { return target == ErrDeadlock }

// BudgetExceededError reports an exhausted repair budget.
type BudgetExceededError struct {
	Node   string
	Repair models.RepairKind
	Budget int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("node %s: %s budget of %d exhausted", e.Node, e.Repair, e.Budget)
}

func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// Fatal reports whether err must end the run without repair.
func Fatal(err error) bool {
	return errors.Is(err, ErrStructural) || errors.Is(err, ErrDeadlock) ||
		errors.Is(err, ErrBudgetExceeded) || errors.Is(err, ErrCancelled)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
