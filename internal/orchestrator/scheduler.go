package orchestrator

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/friday/internal/graph"
)

// Scheduler dispatches ready nodes into a bounded number of slots.
// A node is only ever started through the graph's Start, which checks under
// the graph lock that it is Pending and all its dependencies have Succeeded.
type Scheduler struct {
	// graph is the task graph being executed.
	graph *graph.TaskGraph
	// slots bounds the number of in-flight nodes.
	slots *semaphore.Weighted
	// maxConcurrency is the slot count.
	maxConcurrency int
	// running maps in-flight node names to their start time.
	running map[string]time.Time
	// mu protects running.
	mu sync.Mutex
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// NewScheduler creates a Scheduler over g with maxConcurrency slots.
func NewScheduler(g *graph.TaskGraph, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Scheduler{
		graph:          g,
		slots:          semaphore.NewWeighted(int64(maxConcurrency)),
		maxConcurrency: maxConcurrency,
		running:        make(map[string]time.Time),
		debugLog:       func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (s *Scheduler) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// Schedule starts as many ready nodes as there are free slots and returns
// their names in frontier order. Started nodes are Running when it returns.
func (s *Scheduler) Schedule() []string {
	ready := s.graph.ReadyNodes()
	if len(ready) == 0 {
		return nil
	}

	var started []string
	for _, name := range ready {
		if !s.slots.TryAcquire(1) {
			s.debugLog("[scheduler] no free slots: max=%d, running=%d", s.maxConcurrency, s.InFlight())
			break
		}
		if err := s.graph.Start(name); err != nil {
			s.slots.Release(1)
			s.debugLog("[scheduler] skip %s: %v", name, err)
			continue
		}
		s.mu.Lock()
		s.running[name] = time.Now()
		s.mu.Unlock()
		started = append(started, name)
	}
	if len(started) > 0 {
		s.debugLog("[scheduler] started %v (ready %d)", started, len(ready))
	}
	return started
}

// Complete frees the slot held by name and returns how long it ran.
// Completing a node that is not running is a no-op.
func (s *Scheduler) Complete(name string) time.Duration {
	s.mu.Lock()
	startedAt, ok := s.running[name]
	delete(s.running, name)
	s.mu.Unlock()
	if !ok {
		return 0
	}
	s.slots.Release(1)
	return time.Since(startedAt)
}

// InFlight returns the number of nodes holding a slot.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Running returns the names of in-flight nodes, sorted.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.running))
	for name := range s.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
