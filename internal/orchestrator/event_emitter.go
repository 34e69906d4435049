package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// emitWait is how long Emit waits on a full buffer before dropping.
const emitWait = 100 * time.Millisecond

// EventEmitter fans run events out to a single buffered channel read by the
// TUI or the headless printer. A slow reader loses events rather than
// stalling the scheduler.
type EventEmitter struct {
	ch      chan OrchestratorEvent
	dropped atomic.Uint64

	// mu guards closing ch against concurrent sends.
	mu     sync.RWMutex
	closed bool
}

// NewEventEmitter creates an emitter buffering up to size events.
func NewEventEmitter(size int) *EventEmitter {
	return &EventEmitter{ch: make(chan OrchestratorEvent, size)}
}

// Emit stamps ev and queues it. It is a no-op after Close.
func (e *EventEmitter) Emit(ev OrchestratorEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	timer := time.NewTimer(emitWait)
	defer timer.Stop()
	select {
	case e.ch <- ev:
	case <-timer.C:
		if n := e.dropped.Add(1); n == 1 || n%10 == 0 {
			log.Printf("[orchestrator] event buffer full, dropped %s for %q (%d dropped)", ev.Type, ev.Node, n)
		}
	}
}

// DroppedCount returns how many events were discarded on a full buffer.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.dropped.Load()
}

// Events returns the receive side of the buffer.
func (e *EventEmitter) Events() <-chan OrchestratorEvent {
	return e.ch
}

// Close closes the channel once; later calls are no-ops.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
