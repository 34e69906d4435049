package decompose

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/pkg/models"
)

// ValidationResult contains the results of validating a subtask set.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Err returns a malformed-plan error for an invalid result, or nil.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return errs.MalformedPlan(r.Errors)
}

// ValidateOptions tunes validation for decompose versus replan responses.
type ValidateOptions struct {
	// AllowCode accepts the replan taxonomy's "Code" label as Python.
	AllowCode bool
	// External names nodes outside the set that dependencies may reference.
	External []string
}

// Validate converts subtasks into Pending nodes and checks their structure:
// unique non-empty names, recognized types, resolvable dependencies and no
// cycles. Nodes are returned even when the result is invalid so callers can
// report them.
func Validate(subtasks []Subtask, opts ValidateOptions) ([]*models.TaskNode, ValidationResult) {
	result := ValidationResult{Valid: true}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	seen := make(map[string]bool, len(subtasks))
	nodes := make([]*models.TaskNode, 0, len(subtasks))
	for i, st := range subtasks {
		if st.Name == "" {
			fail("subtask %d has no name", i+1)
			continue
		}
		if seen[st.Name] {
			fail("duplicate subtask name %q", st.Name)
			continue
		}
		seen[st.Name] = true

		typ, ok := models.ParseNodeType(st.Type, opts.AllowCode)
		if !ok {
			fail("subtask %q has unrecognized type %q", st.Name, st.Type)
		}
		if st.Description == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("subtask %q has no description", st.Name))
		}

		nodes = append(nodes, &models.TaskNode{
			Name:         st.Name,
			Description:  st.Description,
			Type:         typ,
			Dependencies: dedupe(st.Dependencies),
			Status:       models.NodeStatusPending,
		})
	}

	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if dep == n.Name {
				fail("subtask %q depends on itself", n.Name)
				continue
			}
			if !seen[dep] && !slices.Contains(opts.External, dep) {
				fail("unknown dependency %q for subtask %q", dep, n.Name)
			}
		}
	}

	if err := ValidateNoCycles(nodes); err != nil {
		fail("%v", err)
	}

	return nodes, result
}

// ValidateNoCycles checks that there are no circular dependencies among nodes.
// Dependencies outside the set are ignored.
func ValidateNoCycles(nodes []*models.TaskNode) error {
	byName := make(map[string]*models.TaskNode, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}

	state := make(map[string]int) // 0=unvisited, 1=visiting, 2=visited

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		if state[name] == 2 {
			return nil
		}
		if state[name] == 1 {
			cycleStart := slices.Index(path, name)
			if cycleStart < 0 {
				cycleStart = 0
			}
			cycle := append(append([]string(nil), path[cycleStart:]...), name)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}

		state[name] = 1
		if n := byName[name]; n != nil {
			for _, dep := range n.Dependencies {
				if _, ok := byName[dep]; !ok {
					continue
				}
				if err := visit(dep, append(path, name)); err != nil {
					return err
				}
			}
		}
		state[name] = 2
		return nil
	}

	for _, n := range nodes {
		if state[n.Name] == 0 {
			if err := visit(n.Name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
