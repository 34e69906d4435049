package orchestrator

import (
	"time"

	"github.com/ShayCichocki/friday/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskStarted indicates a node was dispatched.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a node succeeded.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a node attempt failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskAmended indicates a failed node's code was regenerated.
	EventTaskAmended EventType = "task_amended"
	// EventTaskReplanned indicates new nodes were spliced before a failed node.
	EventTaskReplanned EventType = "task_replanned"
	// EventRunDone indicates the run finished, successfully or not.
	EventRunDone EventType = "run_done"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
// These events are used to update the TUI and the headless printer.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the run.
	RunID string
	// Node is the name of the related node, if applicable.
	Node string
	// NodeType is the type of the related node.
	NodeType models.NodeType
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Score is the judged score for completion events.
	Score int
	// Attempt is the node's retry count when the event was emitted.
	Attempt int
	// Added names nodes spliced by a replan.
	Added []string
	// Counts is the graph's status breakdown at emission time.
	Counts map[models.NodeStatus]int
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the node attempt's or the run's elapsed time.
	Duration time.Duration
}
