package exec

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/friday/pkg/models"
)

// DefaultTimeout bounds a node attempt when no timeout is configured.
const DefaultTimeout = 2 * time.Minute

const (
	// maxManifestEntries caps how many files are fingerprinted for the touched manifest.
	maxManifestEntries = 10000
	// maxManifestDepth is how many directories below the working directory
	// the manifest descends.
	maxManifestDepth = 6
)

// ProcessSandbox runs generated code as a child process per attempt.
type ProcessSandbox struct {
	runner        CommandRunner
	python        string
	timeout       time.Duration
	manifestLimit int
}

// SandboxOption configures a ProcessSandbox.
type SandboxOption func(*ProcessSandbox)

// WithPython sets the Python interpreter. Defaults to python3.
func WithPython(path string) SandboxOption {
	return func(s *ProcessSandbox) { s.python = path }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) SandboxOption {
	return func(s *ProcessSandbox) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithManifestLimit caps the files fingerprinted per snapshot.
func WithManifestLimit(n int) SandboxOption {
	return func(s *ProcessSandbox) {
		if n > 0 {
			s.manifestLimit = n
		}
	}
}

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) SandboxOption {
	return func(s *ProcessSandbox) { s.runner = r }
}

// NewSandbox creates a process sandbox.
func NewSandbox(opts ...SandboxOption) *ProcessSandbox {
	s := &ProcessSandbox{
		runner:        NewRunner(),
		python:        "python3",
		timeout:       DefaultTimeout,
		manifestLimit: maxManifestEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the request and reports the outcome.
func (s *ProcessSandbox) Run(ctx context.Context, req Request) (models.ExecutionResult, error) {
	name, args, stdin, err := s.command(req)
	if err != nil {
		return models.ExecutionResult{Error: err.Error(), ExitCode: -1}, nil
	}

	before := snapshot(req.WorkDir, s.manifestLimit)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, runErr := s.runner.Run(runCtx, req.WorkDir, stdin, name, args...)
	result := models.ExecutionResult{
		Output:   strings.TrimSpace(string(out.Stdout)),
		Error:    strings.TrimSpace(string(out.Stderr)),
		ExitCode: out.ExitCode,
		Duration: time.Since(start),
	}
	result.Touched, result.TouchedTruncated = diff(before, snapshot(req.WorkDir, s.manifestLimit))
	if result.TouchedTruncated {
		log.Printf("[exec] %s: touched manifest limited to the first %d files", req.Node, s.manifestLimit)
	}

	switch {
	case ctx.Err() != nil:
		return result, ctx.Err()
	case errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.ExitCode = -1
		result.Error = joinErr(result.Error, fmt.Sprintf("execution timed out after %s", s.timeout))
		log.Printf("[exec] %s timed out after %s", req.Node, s.timeout)
		return result, nil
	case runErr != nil:
		result.ExitCode = -1
		result.Error = joinErr(result.Error, runErr.Error())
		return result, nil
	}

	// Non-zero exit with an empty stderr still needs an error message.
	if result.ExitCode != 0 && result.Error == "" {
		result.Error = fmt.Sprintf("exit status %d", result.ExitCode)
	}
	return result, nil
}

// command maps a node type onto an interpreter invocation.
func (s *ProcessSandbox) command(req Request) (name string, args []string, stdin string, err error) {
	switch req.Type {
	case models.NodeTypePython, models.NodeTypeAPI:
		return s.python, []string{"-"}, PythonProgram(req.Code, req.Invocation), nil
	case models.NodeTypeShell:
		return "sh", []string{"-c", req.Code}, "", nil
	case models.NodeTypeAppleScript:
		return "osascript", []string{"-e", req.Code}, "", nil
	case models.NodeTypeQA:
		return "", nil, "", fmt.Errorf("QA nodes are answered by the generation service, not executed")
	default:
		return "", nil, "", fmt.Errorf("unsupported node type %q", req.Type)
	}
}

// PythonProgram joins a function body and its invocation into one script
// whose printed output is the invocation's return value.
func PythonProgram(code, invocation string) string {
	var sb strings.Builder
	sb.WriteString(code)
	sb.WriteString("\n\n")
	invocation = strings.TrimSpace(invocation)
	if invocation == "" {
		return sb.String()
	}
	sb.WriteString("_friday_result = ")
	sb.WriteString(invocation)
	sb.WriteString("\nif _friday_result is not None:\n    print(_friday_result)\n")
	return sb.String()
}

func joinErr(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "\n" + msg
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// manifest fingerprints the files of a working directory in walk order.
type manifest struct {
	stamps map[string]fileStamp
	// last is the final path recorded when the walk stopped at the limit;
	// empty if the walk was complete.
	last string
}

func snapshot(dir string, limit int) manifest {
	m := manifest{stamps: make(map[string]fileStamp)}
	if dir == "" {
		return m
	}
	var prev string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || strings.Count(rel, "/") >= maxManifestDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if len(m.stamps) >= limit {
			m.last = prev
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		m.stamps[rel] = fileStamp{size: info.Size(), modTime: info.ModTime()}
		prev = rel
		return nil
	})
	return m
}

// walkOrder compares slash-separated paths in the order WalkDir visits them.
func walkOrder(a, b string) int {
	pa, pb := strings.Split(a, "/"), strings.Split(b, "/")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if c := strings.Compare(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	return len(pa) - len(pb)
}

// diff lists the paths that differ between two snapshots. When either walk
// stopped at its limit only paths up to the earlier stopping point are
// compared, and truncated is true.
func diff(before, after manifest) (touched []string, truncated bool) {
	horizon := before.last
	if after.last != "" && (horizon == "" || walkOrder(after.last, horizon) < 0) {
		horizon = after.last
	}
	inRange := func(path string) bool {
		return horizon == "" || walkOrder(path, horizon) <= 0
	}

	for path, a := range after.stamps {
		if !inRange(path) {
			continue
		}
		if b, ok := before.stamps[path]; !ok || b.size != a.size || !b.modTime.Equal(a.modTime) {
			touched = append(touched, path)
		}
	}
	for path := range before.stamps {
		if _, ok := after.stamps[path]; !ok && inRange(path) {
			touched = append(touched, path)
		}
	}
	sort.Strings(touched)
	return touched, horizon != ""
}

// Verify ProcessSandbox implements Sandbox at compile time.
var _ Sandbox = (*ProcessSandbox)(nil)
