package orchestrator

import (
	"time"

	"github.com/ShayCichocki/friday/internal/state"
)

// createRunState creates a new run record in the checkpoint store.
func (o *Orchestrator) createRunState(r *run, task string) error {
	if o.checkpoints == nil {
		return nil // No-op if checkpoints not configured
	}

	return o.checkpoints.CreateRun(&state.Run{
		ID:         r.id,
		Task:       task,
		WorkingDir: r.env.WorkingDir,
		Status:     state.RunActive,
		StartedAt:  r.started,
	})
}

// checkpoint saves the current graph snapshot. Failures are logged and do
// not stop the run.
func (o *Orchestrator) checkpoint(r *run) {
	if o.checkpoints == nil || r.g == nil {
		return
	}

	if err := o.checkpoints.SaveNodes(r.id, r.g.Nodes()); err != nil {
		o.logger.Log("[checkpoint] run %s: save nodes: %v", r.id, err)
	}
}

// finishRunState records the run's final status and token usage.
func (o *Orchestrator) finishRunState(r *run, status state.RunStatus, runErr error, input, output int64) {
	if o.checkpoints == nil {
		return
	}

	rec, err := o.checkpoints.GetRun(r.id)
	if err != nil || rec == nil {
		o.logger.Log("[checkpoint] run %s: load run: %v", r.id, err)
		return
	}

	now := time.Now()
	rec.Status = status
	rec.Error = ""
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	rec.InputTokens += input
	rec.OutputTokens += output
	if status != state.RunActive {
		rec.FinishedAt = &now
	}
	if err := o.checkpoints.UpdateRun(rec); err != nil {
		o.logger.Log("[checkpoint] run %s: update run: %v", r.id, err)
	}
}
