package models

import "time"

// SkillEntry is a reusable code/invocation pair learned from a successful node.
// Entries are immutable once written; a later, higher-scoring success replaces
// the entry wholesale.
type SkillEntry struct {
	// Fingerprint is the semantic key the entry is stored under.
	Fingerprint string `json:"fingerprint"`
	// Name is the abstract skill name (the source node's name).
	Name string `json:"name"`
	// Type is the node type the code targets.
	Type NodeType `json:"type"`
	// Description is the description of the task the skill solved.
	Description string `json:"description"`
	// Code is the generated code body.
	Code string `json:"code"`
	// Invocation is the invocation template with named parameters.
	Invocation string `json:"invocation,omitempty"`
	// Score is the judged generality (1-10).
	Score int `json:"score"`
	// Provenance is the name of the node whose success produced the entry.
	Provenance string `json:"provenance"`
	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`
}
