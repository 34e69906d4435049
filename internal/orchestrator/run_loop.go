package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/pkg/models"
)

// completion reports a finished node pipeline to the run loop.
type completion struct {
	name string
	// err is non-nil when the node ended the run.
	err error
}

// runLoop dispatches the ready frontier until the graph is done, a node
// fails fatally, the run is cancelled or nothing can make progress.
//
// Every worker's completion is received before runLoop returns, so no node
// is left Running behind a returned error.
func (o *Orchestrator) runLoop(ctx context.Context, r *run) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.pauseCtrl.Stopped():
			cancel()
		case <-runCtx.Done():
		}
	}()

	sched := NewScheduler(r.g, o.opts.maxConcurrency)
	sched.SetDebugLog(o.logger.Log)
	// Workers never block on send: at most maxConcurrency are in flight.
	done := make(chan completion, o.opts.maxConcurrency)
	var fatal error

	for {
		if fatal == nil && runCtx.Err() == nil {
			if err := o.pauseCtrl.WaitIfPaused(runCtx); err != nil {
				o.logger.Log("[runLoop] dispatch stopped: %v", err)
			} else {
				for _, name := range sched.Schedule() {
					o.dispatch(runCtx, r, name, done)
				}
			}
		}

		inFlight := sched.InFlight()
		o.logger.Log("[runLoop] %d in flight, counts %v", inFlight, r.g.StatusCounts())
		if inFlight == 0 {
			break
		}

		c := <-done
		elapsed := sched.Complete(c.name)
		nodesInFlight.Dec()
		o.checkpoint(r)
		o.logger.Log("[runLoop] %s finished after %s", c.name, elapsed)

		if c.err != nil && fatal == nil {
			fatal = c.err
			o.logger.Log("[runLoop] %s ended the run: %v", c.name, c.err)
			cancel()
		}
	}

	return o.outcome(ctx, r, fatal)
}

// dispatch starts the pipeline of a node the scheduler has marked Running.
func (o *Orchestrator) dispatch(ctx context.Context, r *run, name string, done chan<- completion) {
	nodesInFlight.Inc()
	n, _ := r.g.Node(name)
	o.emit(r, OrchestratorEvent{
		Type:     EventTaskStarted,
		Node:     name,
		NodeType: n.Type,
		Attempt:  n.RetryCount,
		Message:  n.Description,
	})
	go func() {
		done <- completion{name: name, err: o.runNode(ctx, r, name)}
	}()
}

// outcome decides how a drained run ended.
func (o *Orchestrator) outcome(ctx context.Context, r *run, fatal error) error {
	switch {
	case fatal != nil && !errors.Is(fatal, errs.ErrCancelled):
		return fatal
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", errs.ErrCancelled, ctx.Err())
	case o.pauseCtrl.IsStopped():
		return fmt.Errorf("%w: %w", errs.ErrCancelled, ErrStopped)
	case fatal != nil:
		return fatal
	}

	if r.g.AllSucceeded() {
		return nil
	}
	if failed := r.g.NamesWithStatus(models.NodeStatusFailedFatal); len(failed) > 0 {
		return fmt.Errorf("node %s failed fatally", strings.Join(failed, ", "))
	}
	pending := r.g.NamesWithStatus(models.NodeStatusPending)
	o.logger.Log("[runLoop] deadlock: pending %v", pending)
	return &errs.DeadlockError{Pending: pending, Snapshot: r.g.Nodes()}
}
