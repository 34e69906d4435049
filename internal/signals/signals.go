// Package signals lets another process pause, resume or stop a running
// orchestration by touching files under .friday/signals.
//
//	touch .friday/signals/pause   # stop dispatching new nodes
//	rm .friday/signals/pause      # resume dispatch
//	touch .friday/signals/kill    # cancel the run
package signals

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names.
const (
	KillFile  = "kill"
	PauseFile = "pause"
)

// pollInterval is used when no file watcher is available.
const pollInterval = 500 * time.Millisecond

// Controller is driven by signal files. The orchestrator's PauseController
// satisfies it.
type Controller interface {
	Pause()
	Resume()
	Stop()
}

// Dir returns the signals directory for a working directory.
func Dir(workDir string) string {
	return filepath.Join(workDir, ".friday", "signals")
}

// Watcher applies signal files to a Controller.
type Watcher struct {
	dir  string
	ctrl Controller

	mu      sync.Mutex
	stopped bool
	paused  bool

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Watch clears stale signal files under workDir and starts applying new ones
// to ctrl. Without a working fsnotify watcher it falls back to polling.
func Watch(workDir string, ctrl Controller) (*Watcher, error) {
	w := &Watcher{
		dir:  Dir(workDir),
		ctrl: ctrl,
		done: make(chan struct{}),
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}
	Clear(workDir)

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(w.dir); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		log.Printf("[signals] file watcher unavailable, polling: %v", err)
		w.wg.Add(1)
		go w.poll()
		return w, nil
	}

	w.watcher = watcher
	w.wg.Add(1)
	go w.watch()
	return w, nil
}

// watch monitors the signals directory for kill/pause files.
func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch filepath.Base(event.Name) {
			case KillFile, PauseFile:
				w.apply()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[signals] watcher error: %v", err)
		}
	}
}

func (w *Watcher) poll() {
	defer w.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.apply()
		}
	}
}

// apply reconciles the controller with the files present on disk. A stop is
// final; pause follows the presence of the pause file.
func (w *Watcher) apply() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if exists(filepath.Join(w.dir, KillFile)) {
		w.stopped = true
		log.Printf("[signals] kill file found, stopping run")
		w.ctrl.Stop()
		return
	}

	paused := exists(filepath.Join(w.dir, PauseFile))
	if paused == w.paused {
		return
	}
	w.paused = paused
	if paused {
		w.ctrl.Pause()
	} else {
		w.ctrl.Resume()
	}
}

// Close stops watching. Signal files are left in place.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
		w.wg.Wait()
	})
	return err
}

// SendKill creates a kill signal file.
func SendKill(workDir string) error {
	return touch(filepath.Join(Dir(workDir), KillFile))
}

// SendPause creates a pause signal file.
func SendPause(workDir string) error {
	return touch(filepath.Join(Dir(workDir), PauseFile))
}

// SendResume removes the pause signal file.
func SendResume(workDir string) error {
	err := os.Remove(filepath.Join(Dir(workDir), PauseFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Clear removes all signal files.
func Clear(workDir string) {
	os.Remove(filepath.Join(Dir(workDir), KillFile))
	os.Remove(filepath.Join(Dir(workDir), PauseFile))
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
