package state

import (
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/friday/pkg/models"
)

// InterruptedRun describes a run that was still active when its process ended.
type InterruptedRun struct {
	RunID        string
	Task         string
	StartedAt    time.Time
	LastActivity time.Time
	// InFlight counts nodes that were mid-attempt or mid-repair.
	InFlight int
	// Remaining counts nodes that had not succeeded.
	Remaining int
}

// RecoveryManager handles detection and cleanup of interrupted runs.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted returns the most recent run still marked active, or nil.
func (rm *RecoveryManager) CheckForInterrupted() (*InterruptedRun, error) {
	active := RunActive
	runs, err := rm.db.ListRuns(&active)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}

	r := runs[0]
	counts, err := rm.db.NodeStatusCounts(r.ID)
	if err != nil {
		return nil, err
	}

	info := &InterruptedRun{
		RunID:        r.ID,
		Task:         r.Task,
		StartedAt:    r.StartedAt,
		LastActivity: r.UpdatedAt,
	}
	for status, n := range counts {
		switch status {
		case models.NodeStatusRunning, models.NodeStatusFailed,
			models.NodeStatusAmending, models.NodeStatusReplanPending:
			info.InFlight += n
		}
		if status != models.NodeStatusSucceeded {
			info.Remaining += n
		}
	}
	return info, nil
}

// Abandon marks an interrupted run canceled so it is no longer offered for
// resume.
func (rm *RecoveryManager) Abandon(runID string) error {
	r, err := rm.db.GetRun(runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if r == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	if r.Status != RunActive {
		return nil
	}

	now := time.Now()
	r.Status = RunCanceled
	r.Error = "abandoned after interruption"
	r.FinishedAt = &now
	if err := rm.db.UpdateRun(r); err != nil {
		return err
	}
	log.Printf("[state] run %s abandoned", runID)
	return nil
}
