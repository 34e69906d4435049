package state

import (
	"io"

	"github.com/ShayCichocki/friday/pkg/models"
)

// RunStore handles run-related persistence operations.
type RunStore interface {
	CreateRun(r *Run) error
	GetRun(id string) (*Run, error)
	UpdateRun(r *Run) error
	ListRuns(status *RunStatus) ([]Run, error)
}

// NodeStore handles graph snapshot persistence.
type NodeStore interface {
	SaveNodes(runID string, nodes []*models.TaskNode) error
	LoadNodes(runID string) ([]*models.TaskNode, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for checkpoint persistence.
// This interface allows the orchestrator to work with any state backend
// without depending on the concrete SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
	NodeStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
	_ NodeStore  = (*DB)(nil)
)
