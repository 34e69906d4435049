package orchestrator

import (
	"slices"
	"testing"

	"github.com/ShayCichocki/friday/internal/graph"
	"github.com/ShayCichocki/friday/pkg/models"
)

func shellNode(name string, deps ...string) *models.TaskNode {
	return &models.TaskNode{Name: name, Description: "do " + name, Type: models.NodeTypeShell, Dependencies: deps}
}

func buildGraph(t *testing.T, nodes ...*models.TaskNode) *graph.TaskGraph {
	t.Helper()
	g, err := graph.Build(nodes)
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}
	return g
}

func TestNewSchedulerDefaultConcurrency(t *testing.T) {
	s := NewScheduler(graph.New(), 0)
	if s.maxConcurrency != DefaultMaxConcurrency {
		t.Errorf("expected maxConcurrency %d, got %d", DefaultMaxConcurrency, s.maxConcurrency)
	}
}

func TestSchedulerScheduleEmpty(t *testing.T) {
	s := NewScheduler(graph.New(), 4)
	if started := s.Schedule(); len(started) != 0 {
		t.Errorf("expected 0 started nodes, got %v", started)
	}
}

func TestSchedulerMaxConcurrencyLimit(t *testing.T) {
	g := buildGraph(t, shellNode("a"), shellNode("b"), shellNode("c"), shellNode("d"), shellNode("e"))
	s := NewScheduler(g, 2)

	started := s.Schedule()
	if !slices.Equal(started, []string{"a", "b"}) {
		t.Fatalf("Schedule() = %v, want [a b]", started)
	}
	if again := s.Schedule(); len(again) != 0 {
		t.Errorf("Schedule() with full slots = %v, want none", again)
	}
	if got := s.InFlight(); got != 2 {
		t.Errorf("InFlight() = %d, want 2", got)
	}

	if err := g.Transition("a", models.NodeStatusRunning, models.NodeStatusSucceeded); err != nil {
		t.Fatal(err)
	}
	s.Complete("a")

	if started := s.Schedule(); !slices.Equal(started, []string{"c"}) {
		t.Errorf("Schedule() after completion = %v, want [c]", started)
	}
	if running := s.Running(); !slices.Equal(running, []string{"b", "c"}) {
		t.Errorf("Running() = %v, want [b c]", running)
	}
}

func TestSchedulerRespectsDependencies(t *testing.T) {
	g := buildGraph(t, shellNode("a"), shellNode("b", "a"))
	s := NewScheduler(g, 4)

	if started := s.Schedule(); !slices.Equal(started, []string{"a"}) {
		t.Fatalf("Schedule() = %v, want [a]", started)
	}
	if n, _ := g.Node("b"); n.Status != models.NodeStatusPending {
		t.Errorf("b status = %s, want pending", n.Status)
	}

	if err := g.Transition("a", models.NodeStatusRunning, models.NodeStatusFailed); err != nil {
		t.Fatal(err)
	}
	s.Complete("a")
	if started := s.Schedule(); len(started) != 0 {
		t.Errorf("Schedule() after failed dependency = %v, want none", started)
	}
}

func TestSchedulerCompleteUnknownIsNoop(t *testing.T) {
	s := NewScheduler(graph.New(), 1)
	if d := s.Complete("ghost"); d != 0 {
		t.Errorf("Complete(ghost) = %v, want 0", d)
	}
	// A spurious release would let two nodes through a single slot.
	g := buildGraph(t, shellNode("x"), shellNode("y"))
	s = NewScheduler(g, 1)
	s.Complete("x")
	if started := s.Schedule(); len(started) != 1 {
		t.Errorf("Schedule() = %v, want exactly one node", started)
	}
}
