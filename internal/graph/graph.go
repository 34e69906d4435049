// Package graph provides the task dependency graph for a run.
package graph

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/pkg/models"
)

// TaskGraph is a directed acyclic graph of task nodes keyed by name.
// Edges are "depends on" relationships stored on each node.
//
// All mutation goes through the graph's methods and is exclusive; readers
// receive cloned nodes so they always observe a consistent snapshot.
type TaskGraph struct {
	mu sync.RWMutex
	// nodes maps node name to the node itself.
	nodes map[string]*models.TaskNode
	// order is insertion order, used for stable snapshots.
	order []string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty task graph.
func New() *TaskGraph {
	return &TaskGraph{
		nodes:    make(map[string]*models.TaskNode),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *TaskGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs a graph from a complete node set. Dependencies may refer to
// any node in the set regardless of order. Every node starts Pending.
func Build(nodes []*models.TaskNode) (*TaskGraph, error) {
	g := New()
	for _, n := range nodes {
		if n.Name == "" {
			return nil, errs.Structural(errs.ErrUnknownNode, "node with empty name")
		}
		if _, exists := g.nodes[n.Name]; exists {
			return nil, errs.Structural(errs.ErrDuplicateName, "node %q", n.Name)
		}
		cp := n.Clone()
		cp.Status = models.NodeStatusPending
		g.nodes[cp.Name] = cp
		g.order = append(g.order, cp.Name)
	}
	if err := g.validateLocked(); err != nil {
		return nil, err
	}
	return g, nil
}

// Restore loads a recorded snapshot as-is, statuses included. It performs no
// validation so that damaged checkpoints can still be inspected; call
// Validate before executing a restored graph.
func Restore(nodes []*models.TaskNode) *TaskGraph {
	g := New()
	for _, n := range nodes {
		if _, exists := g.nodes[n.Name]; exists {
			continue
		}
		g.nodes[n.Name] = n.Clone()
		g.order = append(g.order, n.Name)
	}
	return g
}

// AddNode inserts a node whose dependencies must already exist in the graph.
// The node is added Pending. It fails with a duplicate-name error if the name
// exists, an unknown-node error for unresolved dependencies, or a cycle error
// if the edge set would create a cycle.
func (g *TaskGraph) AddNode(node *models.TaskNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if node == nil || node.Name == "" {
		return errs.Structural(errs.ErrUnknownNode, "node with empty name")
	}
	if _, exists := g.nodes[node.Name]; exists {
		return errs.Structural(errs.ErrDuplicateName, "node %q", node.Name)
	}
	for _, dep := range node.Dependencies {
		if dep == node.Name {
			return errs.Cycle([]string{node.Name, node.Name})
		}
		if _, exists := g.nodes[dep]; !exists {
			return errs.Structural(errs.ErrUnknownNode, "node %q depends on unknown node %q", node.Name, dep)
		}
	}

	cp := node.Clone()
	cp.Status = models.NodeStatusPending
	g.nodes[cp.Name] = cp
	g.order = append(g.order, cp.Name)

	if path := g.findCycleLocked(); path != nil {
		g.removeLocked(cp.Name)
		return errs.Cycle(path)
	}

	g.debugLog("[graph.AddNode] added %s deps=%v", cp.Name, cp.Dependencies)
	return nil
}

// SpliceBefore inserts newNodes and makes each of them a dependency of target.
// New nodes may depend on existing nodes or on each other. The splice is
// atomic: if any check fails the graph is left unchanged.
func (g *TaskGraph) SpliceBefore(target string, newNodes []*models.TaskNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spliceLocked(target, newNodes)
}

// SpliceBeforeFunc is SpliceBefore for nodes that must be named against the
// graph as it is at splice time. build receives the current node names and
// returns the nodes to splice; both steps run under the write lock, so no
// concurrent splice can claim a name in between. It returns what build
// produced.
func (g *TaskGraph) SpliceBeforeFunc(target string, build func(existing []string) []*models.TaskNode) ([]*models.TaskNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		existing = append(existing, name)
	}
	sort.Strings(existing)

	newNodes := build(existing)
	if err := g.spliceLocked(target, newNodes); err != nil {
		return nil, err
	}
	return newNodes, nil
}

func (g *TaskGraph) spliceLocked(target string, newNodes []*models.TaskNode) error {
	tgt, ok := g.nodes[target]
	if !ok {
		return errs.Structural(errs.ErrUnknownNode, "splice target %q", target)
	}
	if len(newNodes) == 0 {
		return nil
	}

	incoming := make(map[string]bool, len(newNodes))
	for _, n := range newNodes {
		if n == nil || n.Name == "" {
			return errs.Structural(errs.ErrUnknownNode, "spliced node with empty name")
		}
		if _, exists := g.nodes[n.Name]; exists || incoming[n.Name] {
			return errs.Structural(errs.ErrDuplicateName, "node %q", n.Name)
		}
		incoming[n.Name] = true
	}
	for _, n := range newNodes {
		for _, dep := range n.Dependencies {
			if dep == n.Name {
				return errs.Cycle([]string{n.Name, n.Name})
			}
			if _, exists := g.nodes[dep]; !exists && !incoming[dep] {
				return errs.Structural(errs.ErrUnknownNode, "node %q depends on unknown node %q", n.Name, dep)
			}
		}
	}

	// Apply tentatively, then roll back on a cycle.
	prevDeps := tgt.Dependencies
	added := make([]string, 0, len(newNodes))
	for _, n := range newNodes {
		cp := n.Clone()
		cp.Status = models.NodeStatusPending
		g.nodes[cp.Name] = cp
		g.order = append(g.order, cp.Name)
		added = append(added, cp.Name)
	}
	deps := append([]string(nil), prevDeps...)
	for _, name := range added {
		if !slices.Contains(deps, name) {
			deps = append(deps, name)
		}
	}
	tgt.Dependencies = deps

	if path := g.findCycleLocked(); path != nil {
		tgt.Dependencies = prevDeps
		for _, name := range added {
			g.removeLocked(name)
		}
		return errs.Cycle(path)
	}

	g.debugLog("[graph.SpliceBefore] spliced %v before %s", added, target)
	return nil
}

// ReadyNodes returns the names of all Pending nodes whose dependencies are
// all Succeeded, sorted by name. This is the only legal scheduling frontier.
func (g *TaskGraph) ReadyNodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for name, n := range g.nodes {
		if n.Status != models.NodeStatusPending {
			continue
		}
		if g.depsSucceededLocked(n) {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	return ready
}

func (g *TaskGraph) depsSucceededLocked(n *models.TaskNode) bool {
	for _, dep := range n.Dependencies {
		d, exists := g.nodes[dep]
		if !exists || d.Status != models.NodeStatusSucceeded {
			return false
		}
	}
	return true
}

// TopologicalOrder returns a lazy sequence of node names in which every node
// follows its dependencies. Ties are broken by name so the order is
// deterministic. Each iteration works on a fresh snapshot, so the sequence can
// be ranged over repeatedly. Nodes on a cycle or behind a dangling dependency
// are never yielded.
func (g *TaskGraph) TopologicalOrder() iter.Seq[string] {
	return func(yield func(string) bool) {
		g.mu.RLock()
		indegree := make(map[string]int, len(g.nodes))
		dependents := make(map[string][]string, len(g.nodes))
		for name, n := range g.nodes {
			// A dangling dependency counts toward indegree but is never
			// released, so its dependent is never yielded.
			indegree[name] = len(n.Dependencies)
			for _, dep := range n.Dependencies {
				if _, exists := g.nodes[dep]; exists {
					dependents[dep] = append(dependents[dep], name)
				}
			}
		}
		g.mu.RUnlock()

		var queue []string
		for name, d := range indegree {
			if d == 0 {
				queue = append(queue, name)
			}
		}
		sort.Strings(queue)

		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			if !yield(name) {
				return
			}
			next := dependents[name]
			sort.Strings(next)
			for _, dn := range next {
				indegree[dn]--
				if indegree[dn] == 0 {
					queue = insertSorted(queue, dn)
				}
			}
		}
	}
}

// TopologicalSort collects TopologicalOrder and fails if some nodes could not
// be ordered.
func (g *TaskGraph) TopologicalSort() ([]string, error) {
	order := slices.Collect(g.TopologicalOrder())
	if n := g.Size(); len(order) != n {
		return order, fmt.Errorf("ordered %d of %d nodes: %w", len(order), n, errs.ErrCycleDetected)
	}
	return order, nil
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// Validate checks every structural invariant: dependencies resolve, no
// self-dependencies, no cycles. It is used on restored graphs.
func (g *TaskGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validateLocked()
}

func (g *TaskGraph) validateLocked() error {
	for _, name := range g.order {
		n := g.nodes[name]
		for _, dep := range n.Dependencies {
			if dep == name {
				return errs.Cycle([]string{name, name})
			}
			if _, exists := g.nodes[dep]; !exists {
				return errs.Structural(errs.ErrUnknownNode, "node %q depends on unknown node %q", name, dep)
			}
		}
	}
	if path := g.findCycleLocked(); path != nil {
		return errs.Cycle(path)
	}
	return nil
}

// findCycleLocked returns a cycle path if one exists, or nil.
// Uses depth-first search with coloring to detect back edges.
func (g *TaskGraph) findCycleLocked() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(name string, path []string) []string
	visit = func(name string, path []string) []string {
		colors[name] = 1
		path = append(path, name)

		for _, dep := range g.nodes[name].Dependencies {
			if _, exists := g.nodes[dep]; !exists {
				continue
			}
			switch colors[dep] {
			case 1:
				start := slices.Index(path, dep)
				return append(append([]string(nil), path[start:]...), dep)
			case 0:
				if cycle := visit(dep, path); cycle != nil {
					return cycle
				}
			}
		}

		colors[name] = 2
		return nil
	}

	names := append([]string(nil), g.order...)
	sort.Strings(names)
	for _, name := range names {
		if colors[name] == 0 {
			if cycle := visit(name, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *TaskGraph) removeLocked(name string) {
	delete(g.nodes, name)
	if i := slices.Index(g.order, name); i >= 0 {
		g.order = slices.Delete(g.order, i, i+1)
	}
}

// Transition moves a node from one status to another. The expected prior
// status makes races observable; the transition must be legal.
func (g *TaskGraph) Transition(name string, from, to models.NodeStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[name]
	if !ok {
		return errs.Structural(errs.ErrUnknownNode, "transition of %q", name)
	}
	if n.Status != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, n.Status)
	}
	if !models.CanTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	n.Status = to
	g.debugLog("[graph.Transition] %s: %s -> %s", name, from, to)
	return nil
}

// Start moves a ready node to Running. It fails unless the node is Pending
// and every dependency has Succeeded, checked under the same lock.
func (g *TaskGraph) Start(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[name]
	if !ok {
		return errs.Structural(errs.ErrUnknownNode, "start of %q", name)
	}
	if n.Status != models.NodeStatusPending {
		return fmt.Errorf("cannot start %q: status is %s", name, n.Status)
	}
	if !g.depsSucceededLocked(n) {
		return fmt.Errorf("cannot start %q: dependencies not satisfied", name)
	}
	n.Status = models.NodeStatusRunning
	g.debugLog("[graph.Start] %s", name)
	return nil
}

// Update applies fn to the live node under the graph's write lock. fn must
// not change the node's name, dependencies or status; those are owned by the
// graph's own operations and any change is reverted with an error.
func (g *TaskGraph) Update(name string, fn func(n *models.TaskNode)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[name]
	if !ok {
		return errs.Structural(errs.ErrUnknownNode, "update of %q", name)
	}
	before := n.Clone()
	fn(n)
	if n.Name != before.Name || !slices.Equal(n.Dependencies, before.Dependencies) || n.Status != before.Status {
		n.Name, n.Dependencies, n.Status = before.Name, before.Dependencies, before.Status
		return fmt.Errorf("update of %q changed graph-owned fields", name)
	}
	return nil
}

// Node returns a copy of the named node.
func (g *TaskGraph) Node(name string) (*models.TaskNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Nodes returns copies of every node in insertion order.
func (g *TaskGraph) Nodes() []*models.TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*models.TaskNode, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name].Clone())
	}
	return out
}

// Size returns the number of nodes in the graph.
func (g *TaskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the names the given node depends on.
func (g *TaskGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return append([]string(nil), n.Dependencies...)
}

// Dependents returns the names of nodes that depend directly on the given node, sorted.
func (g *TaskGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, n := range g.nodes {
		if n.HasDependency(name) {
			dependents = append(dependents, id)
		}
	}
	sort.Strings(dependents)
	return dependents
}

// StatusCounts returns the number of nodes in each status.
func (g *TaskGraph) StatusCounts() map[models.NodeStatus]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	counts := make(map[models.NodeStatus]int)
	for _, n := range g.nodes {
		counts[n.Status]++
	}
	return counts
}

// NamesWithStatus returns the sorted names of nodes in the given status.
func (g *TaskGraph) NamesWithStatus(status models.NodeStatus) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var names []string
	for name, n := range g.nodes {
		if n.Status == status {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AllSucceeded reports whether every node has succeeded.
func (g *TaskGraph) AllSucceeded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if n.Status != models.NodeStatusSucceeded {
			return false
		}
	}
	return true
}

// ResetInterrupted returns nodes left mid-flight by an interrupted run to
// Pending so execution can resume. It returns the names that were reset.
func (g *TaskGraph) ResetInterrupted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var reset []string
	for _, name := range g.order {
		n := g.nodes[name]
		switch n.Status {
		case models.NodeStatusRunning, models.NodeStatusFailed,
			models.NodeStatusAmending, models.NodeStatusReplanPending:
			n.Status = models.NodeStatusPending
			reset = append(reset, name)
		}
	}
	return reset
}
