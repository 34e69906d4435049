package models

import (
	"strings"
	"time"
)

// NodeType is the execution environment of a subtask.
type NodeType string

const (
	// NodeTypePython runs a generated Python function plus its invocation.
	NodeTypePython NodeType = "Python"
	// NodeTypeShell runs a generated shell script.
	NodeTypeShell NodeType = "Shell"
	// NodeTypeAppleScript runs a generated AppleScript via osascript.
	NodeTypeAppleScript NodeType = "AppleScript"
	// NodeTypeAPI runs generated Python that calls an entry from the API catalog.
	NodeTypeAPI NodeType = "API"
	// NodeTypeQA is answered directly by the generation service.
	NodeTypeQA NodeType = "QA"
)

// NodeTypes lists the recognized node types in canonical order.
var NodeTypes = []NodeType{NodeTypePython, NodeTypeShell, NodeTypeAppleScript, NodeTypeAPI, NodeTypeQA}

// Valid returns true if the type is one of the five recognized kinds.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypePython, NodeTypeShell, NodeTypeAppleScript, NodeTypeAPI, NodeTypeQA:
		return true
	default:
		return false
	}
}

// ParseNodeType maps a type label from the generation service onto a canonical NodeType.
// Matching is case-insensitive. When allowCode is true the replan taxonomy's
// "Code" label is accepted and mapped to Python.
func ParseNodeType(s string, allowCode bool) (NodeType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python":
		return NodeTypePython, true
	case "shell", "bash", "sh":
		return NodeTypeShell, true
	case "applescript":
		return NodeTypeAppleScript, true
	case "api":
		return NodeTypeAPI, true
	case "qa":
		return NodeTypeQA, true
	case "code":
		if allowCode {
			return NodeTypePython, true
		}
	}
	return "", false
}

// NodeStatus represents the current state of a node in a run.
type NodeStatus string

const (
	// NodeStatusPending indicates the node is waiting for its dependencies or a slot.
	NodeStatusPending NodeStatus = "pending"
	// NodeStatusRunning indicates the node is executing.
	NodeStatusRunning NodeStatus = "running"
	// NodeStatusSucceeded indicates the node was judged successful.
	NodeStatusSucceeded NodeStatus = "succeeded"
	// NodeStatusFailed indicates the last attempt failed and is awaiting repair.
	NodeStatusFailed NodeStatus = "failed"
	// NodeStatusAmending indicates code is being regenerated for the node.
	NodeStatusAmending NodeStatus = "amending"
	// NodeStatusReplanPending indicates new upstream nodes are being requested.
	NodeStatusReplanPending NodeStatus = "replan_pending"
	// NodeStatusFailedFatal indicates the node cannot be repaired; the run fails.
	NodeStatusFailedFatal NodeStatus = "failed_fatal"
)

// Valid returns true if the status is a known value.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusPending, NodeStatusRunning, NodeStatusSucceeded, NodeStatusFailed,
		NodeStatusAmending, NodeStatusReplanPending, NodeStatusFailedFatal:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is expected for the status.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSucceeded || s == NodeStatusFailedFatal
}

// CanTransition reports whether from -> to is a legal node state transition.
func CanTransition(from, to NodeStatus) bool {
	switch from {
	case NodeStatusPending:
		return to == NodeStatusRunning
	case NodeStatusRunning:
		// Running -> Pending is used when a checkpoint is resumed.
		return to == NodeStatusSucceeded || to == NodeStatusFailed || to == NodeStatusPending
	case NodeStatusFailed:
		return to == NodeStatusAmending || to == NodeStatusReplanPending || to == NodeStatusFailedFatal
	case NodeStatusAmending:
		return to == NodeStatusPending || to == NodeStatusFailedFatal
	case NodeStatusReplanPending:
		return to == NodeStatusPending || to == NodeStatusFailedFatal
	default:
		return false
	}
}

// RepairKind names the repair strategy applied to a failed attempt.
type RepairKind string

const (
	// RepairAmend regenerates the node's code in place.
	RepairAmend RepairKind = "amend"
	// RepairReplan inserts new upstream nodes.
	RepairReplan RepairKind = "replan"
)

// AttemptRecord captures one failed attempt of a node.
type AttemptRecord struct {
	// Attempt is the 1-indexed attempt number.
	Attempt int `json:"attempt"`
	// Error is the executor error or judge rejection text.
	Error string `json:"error,omitempty"`
	// Reasoning is the judge or classifier reasoning for the failure.
	Reasoning string `json:"reasoning,omitempty"`
	// Repair is the strategy chosen for this failure, if any.
	Repair RepairKind `json:"repair,omitempty"`
	// At is when the failure was recorded.
	At time.Time `json:"at"`
}

// TaskNode is a unit of work in a task graph.
type TaskNode struct {
	// Name identifies the node within its graph. It is abstract and reusable.
	Name string `json:"name"`
	// Description is the full, entity-preserving task text.
	Description string `json:"description"`
	// Type selects the execution environment.
	Type NodeType `json:"type"`
	// Dependencies lists names of nodes that must succeed first.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the current state of the node.
	Status NodeStatus `json:"status"`
	// Code is the generated code body, if any.
	Code string `json:"code,omitempty"`
	// Invocation is the generated invocation statement, if any.
	Invocation string `json:"invocation,omitempty"`
	// ReturnValue is the payload exposed to dependents.
	ReturnValue string `json:"return_value,omitempty"`
	// RetryCount is the number of amend attempts consumed.
	RetryCount int `json:"retry_count"`
	// ReplanCount is the number of replans triggered by this node.
	ReplanCount int `json:"replan_count"`
	// Score is the judged generality (1-10), or 0 if not yet judged.
	Score int `json:"score,omitempty"`
	// SkillFingerprint is set when the code came from the skill cache.
	SkillFingerprint string `json:"skill_fingerprint,omitempty"`
	// LastReasoning is the most recent judge or classifier reasoning.
	LastReasoning string `json:"last_reasoning,omitempty"`
	// History records each failed attempt.
	History []AttemptRecord `json:"history,omitempty"`
}

// Clone returns a deep copy of the node.
func (n *TaskNode) Clone() *TaskNode {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Dependencies != nil {
		cp.Dependencies = append([]string(nil), n.Dependencies...)
	}
	if n.History != nil {
		cp.History = append([]AttemptRecord(nil), n.History...)
	}
	return &cp
}

// HasDependency reports whether name is a direct dependency of the node.
func (n *TaskNode) HasDependency(name string) bool {
	for _, d := range n.Dependencies {
		if d == name {
			return true
		}
	}
	return false
}

// ExecutionResult is what the sandboxed executor reports for one attempt.
type ExecutionResult struct {
	// Output is the captured standard output (the return value for Python nodes).
	Output string `json:"output"`
	// Error is the captured error text, empty on success.
	Error string `json:"error,omitempty"`
	// ExitCode is the process exit code, or -1 if the process never ran.
	ExitCode int `json:"exit_code"`
	// Touched lists working-directory paths created, modified or removed.
	Touched []string `json:"touched,omitempty"`
	// TouchedTruncated is set when the working directory held more files
	// than the manifest tracks, so Touched covers only part of it.
	TouchedTruncated bool `json:"touched_truncated,omitempty"`
	// Duration is how long the attempt took.
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the executor observed an error.
func (r ExecutionResult) Failed() bool {
	return r.Error != "" || r.ExitCode != 0
}
