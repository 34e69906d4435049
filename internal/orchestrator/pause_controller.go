package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrStopped is returned by WaitIfPaused once the controller is stopped.
var ErrStopped = errors.New("orchestrator stopped")

// PauseController gates dispatch. While paused no new node is started;
// nodes already in flight finish. Stop is final and aborts the run.
type PauseController struct {
	mu     sync.Mutex
	paused bool
	// gate is closed whenever dispatch is allowed. Pause swaps in a new one.
	gate chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPauseController returns a controller that is neither paused nor stopped.
func NewPauseController() *PauseController {
	gate := make(chan struct{})
	close(gate)
	return &PauseController{gate: gate, stopCh: make(chan struct{})}
}

// Pause holds back new dispatches until Resume.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.gate = make(chan struct{})
	log.Printf("[orchestrator] dispatch paused")
}

// Resume releases any dispatcher waiting in WaitIfPaused.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.gate)
	log.Printf("[orchestrator] dispatch resumed")
}

// Stop aborts the run. Calling it again has no effect.
func (p *PauseController) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Stopped is closed once Stop is called.
func (p *PauseController) Stopped() <-chan struct{} {
	return p.stopCh
}

// IsPaused reports whether dispatch is paused.
func (p *PauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsStopped reports whether Stop has been called.
func (p *PauseController) IsStopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// WaitIfPaused returns once dispatch is allowed. It returns ErrStopped after
// Stop and the context error if ctx ends first.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()

	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	select {
	case <-gate:
	case <-p.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.IsStopped() {
		return ErrStopped
	}
	return nil
}
