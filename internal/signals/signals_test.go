package signals

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) Pause()  { r.record("pause") }
func (r *recorder) Resume() { r.record("resume") }
func (r *recorder) Stop()   { r.record("stop") }

func (r *recorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// waitFor polls until the recorder has seen n calls.
func waitFor(t *testing.T, r *recorder, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls := r.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, got %v", n, r.snapshot())
	return nil
}

func TestWatchPauseResumeKill(t *testing.T) {
	dir := t.TempDir()
	r := &recorder{}
	w, err := Watch(dir, r)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := SendPause(dir); err != nil {
		t.Fatalf("SendPause failed: %v", err)
	}
	waitFor(t, r, 1)

	if err := SendResume(dir); err != nil {
		t.Fatalf("SendResume failed: %v", err)
	}
	waitFor(t, r, 2)

	if err := SendKill(dir); err != nil {
		t.Fatalf("SendKill failed: %v", err)
	}
	calls := waitFor(t, r, 3)

	want := []string{"pause", "resume", "stop"}
	for i, c := range want {
		if calls[i] != c {
			t.Errorf("call %d = %q, want %q (all: %v)", i, calls[i], c, calls)
		}
	}
}

func TestWatchClearsStaleSignals(t *testing.T) {
	dir := t.TempDir()
	if err := SendKill(dir); err != nil {
		t.Fatal(err)
	}

	r := &recorder{}
	w, err := Watch(dir, r)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(filepath.Join(Dir(dir), KillFile)); !os.IsNotExist(err) {
		t.Error("stale kill file should be removed")
	}
	time.Sleep(50 * time.Millisecond)
	if calls := r.snapshot(); len(calls) != 0 {
		t.Errorf("unexpected calls: %v", calls)
	}
}

func TestStopIsFinal(t *testing.T) {
	dir := t.TempDir()
	r := &recorder{}
	w := &Watcher{dir: Dir(dir), ctrl: r, done: make(chan struct{})}

	if err := SendKill(dir); err != nil {
		t.Fatal(err)
	}
	w.apply()
	w.apply()
	if err := SendPause(dir); err != nil {
		t.Fatal(err)
	}
	w.apply()

	if calls := r.snapshot(); len(calls) != 1 || calls[0] != "stop" {
		t.Errorf("calls = %v, want a single stop", calls)
	}
}

func TestSendResumeWithoutPause(t *testing.T) {
	if err := SendResume(t.TempDir()); err != nil {
		t.Errorf("SendResume without a pause file = %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := Watch(t.TempDir(), &recorder{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
