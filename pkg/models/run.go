package models

import "time"

// NodeOutput is the externally visible result of one node.
type NodeOutput struct {
	Name        string     `json:"name"`
	Type        NodeType   `json:"type"`
	Status      NodeStatus `json:"status"`
	ReturnValue string     `json:"return_value,omitempty"`
	RetryCount  int        `json:"retry_count"`
	ReplanCount int        `json:"replan_count"`
	Score       int        `json:"score,omitempty"`
}

// Diagnostics explains how a run ended.
type Diagnostics struct {
	// FailedNode is the node that caused a run failure, if any.
	FailedNode string `json:"failed_node,omitempty"`
	// History is the failing node's attempt history.
	History []AttemptRecord `json:"history,omitempty"`
	// LastReasoning is the last judge or classifier reasoning for the failing node.
	LastReasoning string `json:"last_reasoning,omitempty"`
	// Error is the run-level error message.
	Error string `json:"error,omitempty"`
	// Order is the topological order of the final graph.
	Order []string `json:"order,omitempty"`
	// Amends is the number of amend repairs performed.
	Amends int `json:"amends"`
	// Replans is the number of replan repairs performed.
	Replans int `json:"replans"`
	// SkillHits is the number of nodes whose code came from the skill cache.
	SkillHits int `json:"skill_hits"`
	// InputTokens and OutputTokens are generation-service usage, when known.
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`
}

// RunResult is returned by the orchestrator's single entry point.
type RunResult struct {
	// RunID identifies the run (and its checkpoint, if any).
	RunID string `json:"run_id"`
	// Success is true when every node succeeded.
	Success bool `json:"success"`
	// Outputs maps node name to its output.
	Outputs map[string]NodeOutput `json:"outputs"`
	// Diagnostics describes the final state.
	Diagnostics Diagnostics `json:"diagnostics"`
}
