package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/friday/internal/errs"
	"github.com/ShayCichocki/friday/internal/exec"
	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/internal/genservice/genstub"
	"github.com/ShayCichocki/friday/internal/graph"
	"github.com/ShayCichocki/friday/internal/skills"
	"github.com/ShayCichocki/friday/internal/state"
	"github.com/ShayCichocki/friday/pkg/models"
)

// fakeSandbox records every execution and checks that no node runs before
// its dependencies finished.
type fakeSandbox struct {
	mu       sync.Mutex
	run      func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error)
	deps     map[string][]string
	requests []exec.Request
	calls    map[string]int
	finished map[string]bool
	early    []string
	inFlight int
	peak     int
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		deps:     make(map[string][]string),
		calls:    make(map[string]int),
		finished: make(map[string]bool),
	}
}

func (s *fakeSandbox) Run(ctx context.Context, req exec.Request) (models.ExecutionResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.calls[req.Node]++
	call := s.calls[req.Node]
	for _, d := range s.deps[req.Node] {
		if !s.finished[d] {
			s.early = append(s.early, req.Node)
		}
	}
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	fn := s.run
	s.mu.Unlock()

	res := models.ExecutionResult{Output: req.Node + "-out"}
	var err error
	if fn != nil {
		res, err = fn(ctx, req, call)
	}

	s.mu.Lock()
	s.inFlight--
	if err == nil && !res.Failed() {
		s.finished[req.Node] = true
	}
	s.mu.Unlock()
	return res, err
}

func (s *fakeSandbox) nodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.requests))
	for _, r := range s.requests {
		names = append(names, r.Node)
	}
	return names
}

func newStub(plan string) *genstub.Stub {
	return genstub.New().
		Default(genservice.KindDecompose, plan).
		Default(genservice.KindSkillCreate, genstub.Script("bash", "echo ok")).
		Default(genservice.KindSkillCreateInvoke, genstub.Python("def run():\n    return 1", "run()")).
		Default(genservice.KindJudge, genstub.Judge(true, 8, "looks right")).
		Default(genservice.KindSkillFilter, genstub.Action(""))
}

func newTestOrchestrator(t *testing.T, gen genservice.Generator, sb exec.Sandbox, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithEventBuffer(1000)}, opts...)
	o, err := New(RequiredConfig{Generator: gen, Sandbox: sb}, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func testEnv(t *testing.T) genservice.Env {
	return genservice.Env{SystemVersion: "test", WorkingDir: t.TempDir()}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(RequiredConfig{Sandbox: newFakeSandbox()}); err == nil {
		t.Error("expected error without a generator")
	}
	if _, err := New(RequiredConfig{Generator: genstub.New()}); err == nil {
		t.Error("expected error without a sandbox")
	}
}

func TestRunTaskDiamond(t *testing.T) {
	plan := genstub.Plan(
		genstub.Subtask{Name: "A", Description: "list the reports", Type: "shell"},
		genstub.Subtask{Name: "B", Description: "count the words", Type: "python", Dependencies: []string{"A"}},
		genstub.Subtask{Name: "C", Description: "count the lines", Type: "python", Dependencies: []string{"A"}},
		genstub.Subtask{Name: "D", Description: "combine B and C into a summary", Type: "python", Dependencies: []string{"B", "C"}},
	)
	stub := newStub(plan)
	sb := newFakeSandbox()
	sb.deps = map[string][]string{"B": {"A"}, "C": {"A"}, "D": {"B", "C"}}
	o := newTestOrchestrator(t, stub, sb)

	res, err := o.RunTask(context.Background(), "summarize the reports", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Diagnostics)
	}
	if got := res.Outputs["D"].ReturnValue; got != "D-out" {
		t.Errorf("D return value = %q, want D-out", got)
	}
	if !slices.Equal(res.Diagnostics.Order, []string{"A", "B", "C", "D"}) {
		t.Errorf("Order = %v", res.Diagnostics.Order)
	}
	if len(sb.early) != 0 {
		t.Errorf("nodes ran before their dependencies finished: %v", sb.early)
	}

	var seen bool
	for _, c := range stub.Calls() {
		if c.Kind != genservice.KindSkillCreateInvoke || c.Req.NodeName != "D" {
			continue
		}
		seen = true
		if c.Req.Prereqs["B"].ReturnVal != "B-out" || c.Req.Prereqs["C"].ReturnVal != "C-out" {
			t.Errorf("D prerequisites = %+v, want both return values", c.Req.Prereqs)
		}
	}
	if !seen {
		t.Error("no code generation request for D")
	}
}

func TestNeverRunsBeforeDependencies(t *testing.T) {
	plan := genstub.Plan(
		genstub.Subtask{Name: "a", Description: "step a", Type: "shell"},
		genstub.Subtask{Name: "b", Description: "step b", Type: "shell", Dependencies: []string{"a"}},
		genstub.Subtask{Name: "c", Description: "step c", Type: "shell", Dependencies: []string{"a"}},
		genstub.Subtask{Name: "d", Description: "step d", Type: "shell", Dependencies: []string{"b"}},
		genstub.Subtask{Name: "e", Description: "step e", Type: "shell", Dependencies: []string{"c", "d"}},
		genstub.Subtask{Name: "f", Description: "step f", Type: "shell"},
	)
	sb := newFakeSandbox()
	sb.deps = map[string][]string{"b": {"a"}, "c": {"a"}, "d": {"b"}, "e": {"c", "d"}}
	sb.run = func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error) {
		time.Sleep(time.Duration(len(req.Node)*3) * time.Millisecond)
		return models.ExecutionResult{Output: req.Node + "-out"}, nil
	}
	o := newTestOrchestrator(t, newStub(plan), sb, WithMaxConcurrency(3))

	res, err := o.RunTask(context.Background(), "six steps", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if len(res.Outputs) != 6 {
		t.Errorf("expected 6 outputs, got %d", len(res.Outputs))
	}
	if len(sb.early) != 0 {
		t.Errorf("nodes ran before their dependencies finished: %v", sb.early)
	}
}

func TestConcurrencyBound(t *testing.T) {
	var subtasks []genstub.Subtask
	for _, name := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		subtasks = append(subtasks, genstub.Subtask{Name: name, Description: "independent " + name, Type: "shell"})
	}
	sb := newFakeSandbox()
	sb.run = func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error) {
		time.Sleep(20 * time.Millisecond)
		return models.ExecutionResult{Output: "done"}, nil
	}
	o := newTestOrchestrator(t, newStub(genstub.Plan(subtasks...)), sb, WithMaxConcurrency(2))

	if _, err := o.RunTask(context.Background(), "independent work", testEnv(t)); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if sb.peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", sb.peak)
	}
	if len(sb.nodes()) != 6 {
		t.Errorf("expected 6 executions, got %d", len(sb.nodes()))
	}
}

func TestAmendUntilSuccess(t *testing.T) {
	plan := genstub.Plan(genstub.Subtask{Name: "count_words", Description: "count words in notes.txt", Type: "python"})
	stub := newStub(plan).
		Default(genservice.KindErrorAnalysis, genstub.Classify("amend", "typo in the function")).
		Default(genservice.KindSkillAmend, genstub.Python("def count():\n    return 42", "count()"))
	sb := newFakeSandbox()
	sb.run = func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error) {
		if call <= 2 {
			return models.ExecutionResult{Error: "NameError: name 'x' is not defined", ExitCode: 1}, nil
		}
		return models.ExecutionResult{Output: "42"}, nil
	}
	o := newTestOrchestrator(t, stub, sb, WithMaxAmendRetries(3))

	res, err := o.RunTask(context.Background(), "count words", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	out := res.Outputs["count_words"]
	if out.RetryCount != 2 || out.ReturnValue != "42" {
		t.Errorf("count_words = %+v, want RetryCount 2 and return value 42", out)
	}
	if res.Diagnostics.Amends != 2 {
		t.Errorf("Amends = %d, want 2", res.Diagnostics.Amends)
	}
	if n := stub.Count(genservice.KindSkillAmend, "count_words"); n != 2 {
		t.Errorf("amend requests = %d, want 2", n)
	}
	if n := stub.Count(genservice.KindJudge, ""); n != 1 {
		t.Errorf("judge requests = %d, want 1", n)
	}
}

func TestAmendBudgetExhausted(t *testing.T) {
	plan := genstub.Plan(genstub.Subtask{Name: "count_words", Description: "count words in notes.txt", Type: "python"})
	stub := newStub(plan).
		Default(genservice.KindErrorAnalysis, genstub.Classify("amend", "still broken")).
		Default(genservice.KindSkillAmend, genstub.Python("def count():\n    return x", "count()"))
	sb := newFakeSandbox()
	sb.run = func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error) {
		return models.ExecutionResult{Error: "NameError", ExitCode: 1}, nil
	}
	o := newTestOrchestrator(t, stub, sb, WithMaxAmendRetries(2))

	res, err := o.RunTask(context.Background(), "count words", testEnv(t))
	if !errors.Is(err, errs.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if res == nil || res.Success {
		t.Fatalf("expected failed result, got %+v", res)
	}
	if res.Diagnostics.FailedNode != "count_words" {
		t.Errorf("FailedNode = %q", res.Diagnostics.FailedNode)
	}
	if len(res.Diagnostics.History) != 3 {
		t.Errorf("History has %d records, want 3", len(res.Diagnostics.History))
	}
	if res.Diagnostics.LastReasoning != "still broken" {
		t.Errorf("LastReasoning = %q", res.Diagnostics.LastReasoning)
	}
	if got := res.Outputs["count_words"].Status; got != models.NodeStatusFailedFatal {
		t.Errorf("status = %s, want failed_fatal", got)
	}
	if len(sb.nodes()) != 3 {
		t.Errorf("executions = %d, want 3", len(sb.nodes()))
	}
}

func TestReplanSplicesUpstreamNode(t *testing.T) {
	plan := genstub.Plan(genstub.Subtask{Name: "zip_reports", Description: "zip the reports folder", Type: "shell"})
	stub := newStub(plan).
		Default(genservice.KindErrorAnalysis, genstub.Classify("replan", "zip is not installed")).
		Default(genservice.KindReplan, genstub.Plan(genstub.Subtask{Name: "install_zip", Description: "install the zip tool", Type: "shell"}))
	sb := newFakeSandbox()
	sb.run = func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error) {
		if req.Node == "zip_reports" && call == 1 {
			return models.ExecutionResult{Error: "zip: command not found", ExitCode: 127}, nil
		}
		return models.ExecutionResult{Output: req.Node + " ok"}, nil
	}
	o := newTestOrchestrator(t, stub, sb)

	res, err := o.RunTask(context.Background(), "zip the reports", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if !slices.Equal(sb.nodes(), []string{"zip_reports", "install_zip", "zip_reports"}) {
		t.Errorf("execution order = %v", sb.nodes())
	}
	if !slices.Equal(res.Diagnostics.Order, []string{"install_zip", "zip_reports"}) {
		t.Errorf("Order = %v", res.Diagnostics.Order)
	}
	zip := res.Outputs["zip_reports"]
	if zip.ReplanCount != 1 || zip.RetryCount != 0 {
		t.Errorf("zip_reports = %+v, want ReplanCount 1 and RetryCount 0", zip)
	}
	if res.Diagnostics.Replans != 1 {
		t.Errorf("Replans = %d, want 1", res.Diagnostics.Replans)
	}
}

// barrierGenerator holds replan calls until want of them are in flight, so
// sibling replans propose their nodes against the same graph snapshot.
type barrierGenerator struct {
	genservice.Generator
	want    int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (b *barrierGenerator) Generate(ctx context.Context, kind genservice.PromptKind, req genservice.Request) (string, error) {
	if kind == genservice.KindReplan {
		b.mu.Lock()
		b.arrived++
		if b.arrived == b.want {
			close(b.release)
		}
		b.mu.Unlock()
		select {
		case <-b.release:
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.Generator.Generate(ctx, kind, req)
}

func TestConcurrentReplansRenameCollisions(t *testing.T) {
	plan := genstub.Plan(
		genstub.Subtask{Name: "load_sales", Description: "load sales.csv with pandas", Type: "shell"},
		genstub.Subtask{Name: "load_costs", Description: "load costs.csv with pandas", Type: "shell"},
	)
	stub := newStub(plan).
		Default(genservice.KindErrorAnalysis, genstub.Classify("replan", "pandas is missing")).
		Default(genservice.KindReplan, genstub.Plan(genstub.Subtask{Name: "install_pandas", Description: "pip install pandas", Type: "shell"}))
	gen := &barrierGenerator{Generator: stub, want: 2, release: make(chan struct{})}
	sb := newFakeSandbox()
	sb.run = func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error) {
		if strings.HasPrefix(req.Node, "load_") && call == 1 {
			return models.ExecutionResult{Error: "ModuleNotFoundError: No module named 'pandas'", ExitCode: 1}, nil
		}
		return models.ExecutionResult{Output: req.Node + " ok"}, nil
	}
	o := newTestOrchestrator(t, gen, sb, WithMaxConcurrency(2))

	res, err := o.RunTask(context.Background(), "load both files", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	for _, name := range []string{"load_sales", "load_costs"} {
		out, ok := res.Outputs[name]
		if !ok || out.Status != models.NodeStatusSucceeded {
			t.Errorf("%s = %+v, want succeeded", name, out)
		}
		if out.ReplanCount != 1 {
			t.Errorf("%s ReplanCount = %d, want 1", name, out.ReplanCount)
		}
	}
	for _, name := range []string{"install_pandas", "install_pandas_2"} {
		if _, ok := res.Outputs[name]; !ok {
			t.Errorf("Outputs missing %s; have %v", name, res.Diagnostics.Order)
		}
	}
}

func TestJudgeRejectionPassesCritiqueToAmend(t *testing.T) {
	plan := genstub.Plan(genstub.Subtask{Name: "summarize", Description: "summarize notes.txt", Type: "python"})
	stub := newStub(plan).
		Default(genservice.KindErrorAnalysis, genstub.Classify("amend", "wrong file")).
		Default(genservice.KindSkillAmend, genstub.Python("def s():\n    return 'fixed'", "s()"))
	stub.Queue(genservice.KindJudge, "summarize", genstub.Judge(false, 3, "read the wrong file"))
	o := newTestOrchestrator(t, stub, newFakeSandbox())

	if _, err := o.RunTask(context.Background(), "summarize", testEnv(t)); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	for _, c := range stub.Calls() {
		switch c.Kind {
		case genservice.KindErrorAnalysis:
			if !strings.Contains(c.Req.Error, "read the wrong file") {
				t.Errorf("classifier saw error %q, want the judge critique", c.Req.Error)
			}
		case genservice.KindSkillAmend:
			if c.Req.Critique != "read the wrong file" {
				t.Errorf("amend critique = %q", c.Req.Critique)
			}
		}
	}
}

func TestNodeTimeoutRoutedToClassifier(t *testing.T) {
	plan := genstub.Plan(genstub.Subtask{Name: "slow", Description: "wait for the build", Type: "shell"})
	stub := newStub(plan).
		Default(genservice.KindErrorAnalysis, genstub.Classify("amend", "use a shorter wait")).
		Default(genservice.KindSkillAmend, genstub.Script("bash", "echo built"))
	sb := newFakeSandbox()
	sb.run = func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error) {
		if call == 1 {
			<-ctx.Done()
			return models.ExecutionResult{}, ctx.Err()
		}
		return models.ExecutionResult{Output: "built"}, nil
	}
	o := newTestOrchestrator(t, stub, sb, WithNodeTimeout(50*time.Millisecond))

	res, err := o.RunTask(context.Background(), "build", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.Outputs["slow"].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", res.Outputs["slow"].RetryCount)
	}
	var classified bool
	for _, c := range stub.Calls() {
		if c.Kind == genservice.KindErrorAnalysis {
			classified = true
			if !strings.Contains(c.Req.Error, "timed out") {
				t.Errorf("classifier error = %q, want a timeout", c.Req.Error)
			}
		}
	}
	if !classified {
		t.Error("timeout was not routed to the classifier")
	}
}

func TestDeadlockOnDanglingDependency(t *testing.T) {
	g := graph.Restore([]*models.TaskNode{
		{Name: "a", Description: "step a", Type: models.NodeTypeShell, Status: models.NodeStatusPending},
		{Name: "b", Description: "step b", Type: models.NodeTypeShell, Status: models.NodeStatusPending, Dependencies: []string{"ghost"}},
	})
	o := newTestOrchestrator(t, newStub(""), newFakeSandbox())

	res, err := o.Execute(context.Background(), g, testEnv(t))
	var deadlock *errs.DeadlockError
	if !errors.As(err, &deadlock) {
		t.Fatalf("expected DeadlockError, got %v", err)
	}
	if !slices.Equal(deadlock.Pending, []string{"b"}) || len(deadlock.Snapshot) != 2 {
		t.Errorf("deadlock = %+v", deadlock)
	}
	if res.Outputs["a"].Status != models.NodeStatusSucceeded {
		t.Errorf("a status = %s, want succeeded", res.Outputs["a"].Status)
	}
	if res.Diagnostics.FailedNode != "b" {
		t.Errorf("FailedNode = %q, want b", res.Diagnostics.FailedNode)
	}
}

func TestCancellationMarksInFlightFailed(t *testing.T) {
	g, err := graph.Build([]*models.TaskNode{
		shellNode("slow"),
		shellNode("after", "slow"),
	})
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	sb := newFakeSandbox()
	sb.run = func(ctx context.Context, req exec.Request, call int) (models.ExecutionResult, error) {
		close(started)
		<-ctx.Done()
		return models.ExecutionResult{}, ctx.Err()
	}
	o := newTestOrchestrator(t, newStub(""), sb)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res *models.RunResult
		err error
	}
	env := testEnv(t)
	done := make(chan outcome, 1)
	go func() {
		res, err := o.Execute(ctx, g, env)
		done <- outcome{res, err}
	}()

	<-started
	cancel()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
	if !errors.Is(got.err, errs.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", got.err)
	}
	if s := got.res.Outputs["slow"].Status; s != models.NodeStatusFailed {
		t.Errorf("slow status = %s, want failed", s)
	}
	if s := got.res.Outputs["after"].Status; s != models.NodeStatusPending {
		t.Errorf("after status = %s, want pending", s)
	}
	if got.res.Diagnostics.FailedNode != "slow" || len(got.res.Diagnostics.History) != 1 {
		t.Errorf("diagnostics = %+v", got.res.Diagnostics)
	}
}

func TestStoppedControllerCancelsRun(t *testing.T) {
	pc := NewPauseController()
	pc.Stop()
	sb := newFakeSandbox()
	o := newTestOrchestrator(t, newStub(""), sb, WithPauseController(pc))

	_, err := o.Execute(context.Background(), buildGraph(t, shellNode("a")), testEnv(t))
	if !errors.Is(err, errs.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if n := len(sb.nodes()); n != 0 {
		t.Errorf("executions = %d, want 0", n)
	}
}

func TestContractViolationIsFatal(t *testing.T) {
	plan := genstub.Plan(genstub.Subtask{Name: "list_files", Description: "list files", Type: "shell"})
	stub := newStub(plan).Default(genservice.KindSkillCreate, "I would rather not write code.")
	o := newTestOrchestrator(t, stub, newFakeSandbox())

	res, err := o.RunTask(context.Background(), "list", testEnv(t))
	if !errors.Is(err, errs.ErrContractViolation) {
		t.Fatalf("expected ErrContractViolation, got %v", err)
	}
	if s := res.Outputs["list_files"].Status; s != models.NodeStatusFailedFatal {
		t.Errorf("status = %s, want failed_fatal", s)
	}
}

func TestMalformedPlanFailsRun(t *testing.T) {
	o := newTestOrchestrator(t, newStub("no plan here"), newFakeSandbox())

	res, err := o.RunTask(context.Background(), "anything", testEnv(t))
	if !errors.Is(err, errs.ErrStructural) {
		t.Fatalf("expected structural error, got %v", err)
	}
	if res == nil || res.Success || res.Diagnostics.Error == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestQANodeAnsweredByGenerator(t *testing.T) {
	plan := genstub.Plan(
		genstub.Subtask{Name: "list_files", Description: "list the files", Type: "shell"},
		genstub.Subtask{Name: "answer", Description: "how many files are there", Type: "qa", Dependencies: []string{"list_files"}},
	)
	stub := newStub(plan).Default(genservice.KindQA, "There are 3 files.")
	sb := newFakeSandbox()
	o := newTestOrchestrator(t, stub, sb)

	res, err := o.RunTask(context.Background(), "count files", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if got := res.Outputs["answer"].ReturnValue; got != "There are 3 files." {
		t.Errorf("answer = %q", got)
	}
	if !slices.Equal(sb.nodes(), []string{"list_files"}) {
		t.Errorf("executions = %v, want only list_files", sb.nodes())
	}
}

func TestSkillCacheHitSkipsGeneration(t *testing.T) {
	store := skills.NewMemoryStore()
	if _, err := store.Put(&models.SkillEntry{
		Fingerprint: skills.Fingerprint(models.NodeTypeShell, "list_files"),
		Name:        "list_files",
		Type:        models.NodeTypeShell,
		Description: "list files",
		Code:        "ls -1",
		Score:       9,
	}); err != nil {
		t.Fatal(err)
	}
	plan := genstub.Plan(genstub.Subtask{Name: "list_files", Description: "list the files", Type: "shell"})
	stub := newStub(plan)
	sb := newFakeSandbox()
	o := newTestOrchestrator(t, stub, sb, WithSkillStore(store))

	res, err := o.RunTask(context.Background(), "list", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if n := stub.Count(genservice.KindSkillCreate, ""); n != 0 {
		t.Errorf("code generations = %d, want 0", n)
	}
	if res.Diagnostics.SkillHits != 1 {
		t.Errorf("SkillHits = %d, want 1", res.Diagnostics.SkillHits)
	}
	if len(sb.requests) != 1 || sb.requests[0].Code != "ls -1" {
		t.Errorf("requests = %+v, want cached code", sb.requests)
	}
}

func TestSuccessfulNodeAdmittedToCache(t *testing.T) {
	plan := genstub.Plan(genstub.Subtask{Name: "list_files", Description: "list the files", Type: "shell"})
	store := skills.NewMemoryStore()
	o := newTestOrchestrator(t, newStub(plan), newFakeSandbox(), WithSkillStore(store), WithReuseThreshold(7))

	if _, err := o.RunTask(context.Background(), "list", testEnv(t)); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	e, err := store.Get(skills.Fingerprint(models.NodeTypeShell, "list_files"))
	if err != nil || e == nil {
		t.Fatalf("skill not admitted: (%v, %v)", e, err)
	}
	if e.Code != "echo ok" || e.Score != 8 {
		t.Errorf("entry = %+v", e)
	}
}

func openCheckpoints(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunTaskCheckpointsRun(t *testing.T) {
	db := openCheckpoints(t)
	plan := genstub.Plan(genstub.Subtask{Name: "list_files", Description: "list the files", Type: "shell"})
	o := newTestOrchestrator(t, newStub(plan), newFakeSandbox(), WithCheckpointStore(db), WithRunID("run-42"))

	res, err := o.RunTask(context.Background(), "list", testEnv(t))
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.RunID != "run-42" {
		t.Errorf("RunID = %q", res.RunID)
	}
	rec, err := db.GetRun("run-42")
	if err != nil || rec == nil {
		t.Fatalf("GetRun = (%v, %v)", rec, err)
	}
	if rec.Status != state.RunSucceeded || rec.FinishedAt == nil || rec.Task != "list" {
		t.Errorf("run record = %+v", rec)
	}
	nodes, err := db.LoadNodes("run-42")
	if err != nil || len(nodes) != 1 || nodes[0].Status != models.NodeStatusSucceeded {
		t.Errorf("checkpointed nodes = %v (%v)", nodes, err)
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	db := openCheckpoints(t)
	dir := t.TempDir()
	if err := db.CreateRun(&state.Run{ID: "run-1", Task: "count", WorkingDir: dir, Status: state.RunActive, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveNodes("run-1", []*models.TaskNode{
		{Name: "list_files", Description: "list the files", Type: models.NodeTypeShell, Status: models.NodeStatusSucceeded, Code: "ls", ReturnValue: "a.txt b.txt", Score: 8},
		{Name: "count", Description: "count the files", Type: models.NodeTypePython, Status: models.NodeStatusRunning, Dependencies: []string{"list_files"}},
	}); err != nil {
		t.Fatal(err)
	}

	stub := newStub("")
	sb := newFakeSandbox()
	o := newTestOrchestrator(t, stub, sb, WithCheckpointStore(db))

	res, err := o.Resume(context.Background(), "run-1", genservice.Env{})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !res.Success || res.Outputs["list_files"].ReturnValue != "a.txt b.txt" {
		t.Errorf("result = %+v", res)
	}
	if !slices.Equal(sb.nodes(), []string{"count"}) {
		t.Errorf("executions = %v, want only count", sb.nodes())
	}
	if sb.requests[0].WorkDir != dir {
		t.Errorf("WorkDir = %q, want the run's working dir", sb.requests[0].WorkDir)
	}
	for _, c := range stub.Calls() {
		if c.Kind == genservice.KindSkillCreateInvoke && c.Req.Prereqs["list_files"].ReturnVal != "a.txt b.txt" {
			t.Errorf("count prerequisites = %+v", c.Req.Prereqs)
		}
	}

	rec, _ := db.GetRun("run-1")
	if rec.Status != state.RunSucceeded {
		t.Errorf("run status = %s, want succeeded", rec.Status)
	}
	if _, err := o.Resume(context.Background(), "run-1", genservice.Env{}); err == nil {
		t.Error("expected error resuming a succeeded run")
	}
}

func TestResumeRequiresCheckpointStore(t *testing.T) {
	o := newTestOrchestrator(t, newStub(""), newFakeSandbox())
	if _, err := o.Resume(context.Background(), "run-1", genservice.Env{}); err == nil {
		t.Error("expected error without a checkpoint store")
	}
}

func TestEventsEmitted(t *testing.T) {
	plan := genstub.Plan(genstub.Subtask{Name: "list_files", Description: "list the files", Type: "shell"})
	o := newTestOrchestrator(t, newStub(plan), newFakeSandbox())

	if _, err := o.RunTask(context.Background(), "list", testEnv(t)); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	var types []EventType
	for {
		select {
		case ev := <-o.Events():
			types = append(types, ev.Type)
			continue
		default:
		}
		break
	}
	want := []EventType{EventTaskStarted, EventTaskCompleted, EventRunDone}
	if !slices.Equal(types, want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}
