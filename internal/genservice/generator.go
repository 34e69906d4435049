// Package genservice is the boundary to the text generation service.
//
// The orchestration core never talks to a model directly. It renders a
// PromptKind with a structured Request and receives raw text back, which the
// consuming package parses against the documented shape for that kind.
package genservice

import (
	"context"
)

// PromptKind selects which prompt is rendered for a generation call.
type PromptKind string

const (
	// KindDecompose breaks a task into a subtask map.
	KindDecompose PromptKind = "decompose"
	// KindReplan proposes new upstream subtasks for a failing node.
	KindReplan PromptKind = "replan"
	// KindSkillCreate writes a Shell or AppleScript body for a node.
	KindSkillCreate PromptKind = "skill_create"
	// KindSkillCreateInvoke writes a Python function and an <invoke> statement.
	KindSkillCreateInvoke PromptKind = "skill_create_invoke"
	// KindSkillAmend repairs previously generated code using error and critique.
	KindSkillAmend PromptKind = "skill_amend"
	// KindJudge evaluates whether a node achieved its task.
	KindJudge PromptKind = "judge"
	// KindErrorAnalysis classifies a failure as amend or replan.
	KindErrorAnalysis PromptKind = "error_analysis"
	// KindToolUsage writes Python that calls an entry of the API catalog.
	KindToolUsage PromptKind = "tool_usage"
	// KindQA answers a question node directly.
	KindQA PromptKind = "qa"
	// KindSkillFilter picks a cached skill equivalent to the node, if any.
	KindSkillFilter PromptKind = "skill_filter"
)

// PromptKinds lists every kind the service must support.
var PromptKinds = []PromptKind{
	KindDecompose, KindReplan, KindSkillCreate, KindSkillCreateInvoke, KindSkillAmend,
	KindJudge, KindErrorAnalysis, KindToolUsage, KindQA, KindSkillFilter,
}

// PrereqInfo is what a node can see of one of its succeeded dependencies.
type PrereqInfo struct {
	Description string `json:"description"`
	ReturnVal   string `json:"return_val"`
}

// Env is the environment context shared by every request in a run.
type Env struct {
	// SystemVersion describes the host OS.
	SystemVersion string
	// WorkingDir is the directory the task operates on.
	WorkingDir string
	// CurrentWorkingDir is the process working directory.
	CurrentWorkingDir string
	// FilesAndFolders is a listing of WorkingDir.
	FilesAndFolders string
	// Tools maps tool name to description.
	Tools map[string]string
	// APIs maps API path to description.
	APIs map[string]string
}

// Request carries the structured context for one generation call.
// Fields irrelevant to the kind are left empty.
type Request struct {
	Env

	// Task is the overall task for decompose, or the node description otherwise.
	Task string
	// NodeName is the name of the node the request is about.
	NodeName string
	// NodeType is the node's type label.
	NodeType string
	// Prereqs maps dependency name to its description and return value.
	Prereqs map[string]PrereqInfo
	// NextTasks are descriptions of the node's dependents.
	NextTasks []string
	// Code is the node's current code.
	Code string
	// Invocation is the node's current invocation.
	Invocation string
	// Output is the captured execution output.
	Output string
	// Error is the captured execution error.
	Error string
	// Critique is a previous judgment's reasoning.
	Critique string
	// Reasoning is the classifier's reasoning for a replan.
	Reasoning string
	// Candidates maps cached skill name to description for skill filtering.
	Candidates map[string]string
	// RelevantCode is code from a cached skill offered as a starting point.
	RelevantCode string
}

// Generator produces text for a prompt kind. Implementations must honor
// context cancellation.
type Generator interface {
	Generate(ctx context.Context, kind PromptKind, req Request) (string, error)
}

// UsageReporter is implemented by generators that track token usage.
type UsageReporter interface {
	Usage() (input, output int64)
}
