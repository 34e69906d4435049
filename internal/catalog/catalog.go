// Package catalog loads the tool and API catalogs offered to the generation
// service and assembles the per-run environment context.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/friday/internal/genservice"
)

// MaxListing caps the number of entries in a working directory listing.
const MaxListing = 200

// Entry describes one tool or API.
type Entry struct {
	// Name is the tool name or API path.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Catalog holds the tools and APIs that generated code may use.
// It is safe for concurrent use.
type Catalog struct {
	tools map[string]string
	apis  map[string]string
	mu    sync.RWMutex
}

// catalogFile is the YAML layout of a catalog file. A file may carry tools,
// APIs or both.
type catalogFile struct {
	Tools []Entry `yaml:"tools"`
	APIs  []Entry `yaml:"apis"`
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		tools: make(map[string]string),
		apis:  make(map[string]string),
	}
}

// AddTool registers a tool. A later registration of the same name wins.
func (c *Catalog) AddTool(name, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[name] = description
}

// AddAPI registers an API by path.
func (c *Catalog) AddAPI(path, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apis[path] = description
}

// LoadFile merges the tools and APIs of a YAML catalog file. An empty path
// is a no-op.
func (c *Catalog) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", path, err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range f.Tools {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("catalog %s: tool %d has no name", path, i)
		}
		c.tools[e.Name] = strings.TrimSpace(e.Description)
	}
	for i, e := range f.APIs {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("catalog %s: api %d has no name", path, i)
		}
		c.apis[e.Name] = strings.TrimSpace(e.Description)
	}
	return nil
}

// Tools returns a copy of the tool catalog.
func (c *Catalog) Tools() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.tools)
}

// APIs returns a copy of the API catalog.
func (c *Catalog) APIs() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.apis)
}

// Entries returns the tools and APIs sorted by name, for display.
func (c *Catalog) Entries() (tools, apis []Entry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedEntries(c.tools), sortedEntries(c.apis)
}

// Env builds the environment context for a run rooted at workDir.
func (c *Catalog) Env(workDir string) (genservice.Env, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return genservice.Env{}, fmt.Errorf("resolve working dir: %w", err)
	}
	listing, err := ListFiles(abs, MaxListing)
	if err != nil {
		return genservice.Env{}, err
	}
	cwd, _ := os.Getwd()

	return genservice.Env{
		SystemVersion:     SystemVersion(),
		WorkingDir:        abs,
		CurrentWorkingDir: cwd,
		FilesAndFolders:   listing,
		Tools:             c.Tools(),
		APIs:              c.APIs(),
	}, nil
}

// SystemVersion describes the host for prompts.
func SystemVersion() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// ListFiles returns a one-level listing of dir, directories suffixed with
// "/", sorted and truncated to limit entries. Hidden entries are skipped.
func ListFiles(dir string, limit int) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if limit > 0 && len(names) > limit {
		more := len(names) - limit
		names = append(names[:limit], fmt.Sprintf("... (%d more)", more))
	}
	return strings.Join(names, "\n"), nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedEntries(m map[string]string) []Entry {
	out := make([]Entry, 0, len(m))
	for k, v := range m {
		out = append(out, Entry{Name: k, Description: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
