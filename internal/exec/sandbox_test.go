package exec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/friday/pkg/models"
)

// fakeRunner records the command it was asked to run.
type fakeRunner struct {
	name  string
	args  []string
	stdin string
	out   Output
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, workDir, stdin, name string, args ...string) (Output, error) {
	f.name, f.args, f.stdin = name, args, stdin
	return f.out, f.err
}

func TestSandboxCommandByType(t *testing.T) {
	tests := []struct {
		typ      models.NodeType
		wantName string
		wantArg  string
	}{
		{models.NodeTypePython, "python3", "-"},
		{models.NodeTypeAPI, "python3", "-"},
		{models.NodeTypeShell, "sh", "-c"},
		{models.NodeTypeAppleScript, "osascript", "-e"},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			fr := &fakeRunner{out: Output{Stdout: []byte("ok\n")}}
			sb := NewSandbox(WithRunner(fr))

			res, err := sb.Run(context.Background(), Request{Type: tt.typ, Code: "body", Invocation: "f()"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if fr.name != tt.wantName || len(fr.args) == 0 || fr.args[0] != tt.wantArg {
				t.Errorf("ran %s %v, want %s %s ...", fr.name, fr.args, tt.wantName, tt.wantArg)
			}
			if res.Output != "ok" || res.Failed() {
				t.Errorf("unexpected result %+v", res)
			}
		})
	}
}

func TestSandboxRejectsQA(t *testing.T) {
	fr := &fakeRunner{}
	res, err := NewSandbox(WithRunner(fr)).Run(context.Background(), Request{Type: models.NodeTypeQA})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Failed() || fr.name != "" {
		t.Errorf("QA node should fail without running anything: %+v", res)
	}
}

func TestSandboxNonZeroExit(t *testing.T) {
	fr := &fakeRunner{out: Output{ExitCode: 3}}
	res, err := NewSandbox(WithRunner(fr)).Run(context.Background(), Request{Type: models.NodeTypeShell, Code: "exit 3"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 || res.Error != "exit status 3" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestPythonProgram(t *testing.T) {
	got := PythonProgram("def f(x):\n    return x", "f(2)")
	if !strings.Contains(got, "_friday_result = f(2)") || !strings.Contains(got, "print(_friday_result)") {
		t.Errorf("PythonProgram() = %q", got)
	}
	if got := PythonProgram("print(1)", ""); strings.Contains(got, "_friday_result") {
		t.Errorf("program without invocation should not capture a result: %q", got)
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestSandboxShellTouchedManifest(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := NewSandbox().Run(context.Background(), Request{
		Type:    models.NodeTypeShell,
		Code:    "echo hello > new.txt && rm old.txt && echo done",
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed() {
		t.Fatalf("unexpected failure: %+v", res)
	}
	if res.Output != "done" {
		t.Errorf("Output = %q, want done", res.Output)
	}
	if !slices.Equal(res.Touched, []string{"new.txt", "old.txt"}) {
		t.Errorf("Touched = %v, want [new.txt old.txt]", res.Touched)
	}
}

func TestSandboxShellError(t *testing.T) {
	requireSh(t)
	res, err := NewSandbox().Run(context.Background(), Request{
		Type: models.NodeTypeShell,
		Code: "echo broken >&2; exit 2",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 2 || res.Error != "broken" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSandboxTimeoutIsExecutionError(t *testing.T) {
	requireSh(t)
	res, err := NewSandbox(WithTimeout(50*time.Millisecond)).Run(context.Background(), Request{
		Type: models.NodeTypeShell,
		Code: "sleep 5",
	})
	if err != nil {
		t.Fatalf("timeout should be reported in the result, got err %v", err)
	}
	if !res.Failed() || !strings.Contains(res.Error, "timed out") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSandboxCancellation(t *testing.T) {
	requireSh(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewSandbox().Run(ctx, Request{Type: models.NodeTypeShell, Code: "sleep 5"})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestManifestLimit(t *testing.T) {
	tests := []struct {
		name          string
		limit         int
		change        []string
		wantTouched   []string
		wantTruncated bool
	}{
		{"under limit", 10, []string{"e.txt"}, []string{"e.txt"}, false},
		{"change before the cut", 3, []string{"b.txt"}, []string{"b.txt"}, true},
		{"change past the cut", 3, []string{"e.txt"}, nil, true},
		// a0.txt moves the second walk's cut back to b.txt, so c.txt is not
		// reported as removed.
		{"new file shifts the cut", 3, []string{"a0.txt"}, []string{"a0.txt"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, "a.txt", "b.txt", "c.txt", "d.txt", "e.txt")

			before := snapshot(dir, tt.limit)
			for _, name := range tt.change {
				if err := os.WriteFile(filepath.Join(dir, name), []byte("changed"), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			touched, truncated := diff(before, snapshot(dir, tt.limit))
			if !slices.Equal(touched, tt.wantTouched) {
				t.Errorf("touched = %v, want %v", touched, tt.wantTouched)
			}
			if truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.wantTruncated)
			}
		})
	}
}

func TestManifestDepthLimit(t *testing.T) {
	dir := t.TempDir()
	deep := strings.Repeat("d/", maxManifestDepth+1) + "deep.txt"
	writeFiles(t, dir, "top.txt", "sub/mid.txt", deep, ".git/HEAD")

	m := snapshot(dir, maxManifestEntries)
	for _, want := range []string{"top.txt", "sub/mid.txt"} {
		if _, ok := m.stamps[want]; !ok {
			t.Errorf("snapshot missing %s", want)
		}
	}
	for _, skip := range []string{deep, ".git/HEAD"} {
		if _, ok := m.stamps[skip]; ok {
			t.Errorf("snapshot should skip %s", skip)
		}
	}
	if m.last != "" {
		t.Errorf("last = %q, want empty for a complete walk", m.last)
	}
}

func TestWalkOrder(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a.txt", "b.txt", -1},
		{"a/z.txt", "a.txt", -1},
		{"a", "a/b.txt", -1},
		{"b.txt", "a/z.txt", 1},
		{"x/y", "x/y", 0},
	}
	for _, tt := range tests {
		got := walkOrder(tt.a, tt.b)
		if (got < 0) != (tt.want < 0) || (got > 0) != (tt.want > 0) {
			t.Errorf("walkOrder(%q, %q) = %d, want sign of %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// writingRunner creates a file in the working directory instead of running.
type writingRunner struct{ name string }

func (w writingRunner) Run(ctx context.Context, workDir, stdin, name string, args ...string) (Output, error) {
	err := os.WriteFile(filepath.Join(workDir, w.name), []byte("new"), 0o644)
	return Output{}, err
}

func TestSandboxReportsTruncatedManifest(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "b.txt", "c.txt", "d.txt")

	sb := NewSandbox(WithRunner(writingRunner{name: "a.txt"}), WithManifestLimit(2))
	res, err := sb.Run(context.Background(), Request{Node: "n", Type: models.NodeTypeShell, Code: "true", WorkDir: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TouchedTruncated {
		t.Error("TouchedTruncated = false, want true")
	}
	if !slices.Equal(res.Touched, []string{"a.txt"}) {
		t.Errorf("Touched = %v, want [a.txt]", res.Touched)
	}
}
