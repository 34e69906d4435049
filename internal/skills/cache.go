package skills

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ShayCichocki/friday/internal/genservice"
	"github.com/ShayCichocki/friday/pkg/models"
)

// DefaultReuseThreshold is the minimum judged score for cache admission.
const DefaultReuseThreshold = 7

// GenerateFunc produces a candidate entry for a fingerprint with no cached entry.
type GenerateFunc func(ctx context.Context) (*models.SkillEntry, error)

// Stats counts cache activity.
type Stats struct {
	Hits        int64
	Misses      int64
	Generations int64
	Shared      int64
	Writes      int64
}

// Cache is the skill cache consulted before generating code for a node.
//
// Lookups and generations are single-flight per fingerprint: concurrent
// callers for the same fingerprint wait on the first caller's call and all
// receive its result. Writes are serialized.
type Cache struct {
	store     Store
	gen       genservice.Generator
	threshold int

	lookups     singleflight.Group
	generations singleflight.Group
	writeMu     sync.Mutex

	hits, misses, generated, shared, writes atomic.Int64
}

// NewCache creates a cache over store. gen may be nil, in which case only
// exact fingerprint hits are served. threshold <= 0 uses DefaultReuseThreshold.
func NewCache(store Store, gen genservice.Generator, threshold int) *Cache {
	if threshold <= 0 {
		threshold = DefaultReuseThreshold
	}
	return &Cache{store: store, gen: gen, threshold: threshold}
}

// Threshold returns the minimum score for admission.
func (c *Cache) Threshold() int {
	return c.threshold
}

// Lookup finds a cached skill for node. An exact fingerprint hit is returned
// directly. Otherwise, when there are cached skills of the same type, the
// generation service is asked whether one of them already does the job.
func (c *Cache) Lookup(ctx context.Context, node *models.TaskNode) (*models.SkillEntry, bool, error) {
	fp := Fingerprint(node.Type, node.Name)

	v, err, _ := c.lookups.Do(fp, func() (interface{}, error) {
		if e, err := c.store.Get(fp); err != nil || e != nil {
			return e, err
		}
		if c.gen == nil {
			return (*models.SkillEntry)(nil), nil
		}
		return c.filter(ctx, node)
	})
	if err != nil {
		return nil, false, err
	}
	e, _ := v.(*models.SkillEntry)
	if e == nil {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	cp := *e
	return &cp, true, nil
}

func (c *Cache) filter(ctx context.Context, node *models.TaskNode) (*models.SkillEntry, error) {
	candidates, err := c.store.List(node.Type)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	byName := make(map[string]*models.SkillEntry, len(candidates))
	descriptions := make(map[string]string, len(candidates))
	for _, e := range candidates {
		byName[e.Name] = e
		descriptions[e.Name] = e.Description
	}

	resp, err := c.gen.Generate(ctx, genservice.KindSkillFilter, genservice.Request{
		Task:       node.Description,
		NodeName:   node.Name,
		NodeType:   string(node.Type),
		Candidates: descriptions,
	})
	if err != nil {
		return nil, fmt.Errorf("skill filter for %s: %w", node.Name, err)
	}
	name, ok := genservice.ExtractAction(resp)
	if !ok {
		return nil, nil
	}
	// A name outside the candidate list is treated as a miss.
	return byName[name], nil
}

// GetOrGenerate returns the cached entry for fingerprint or, if there is
// none, runs fn. Concurrent calls for the same fingerprint share a single fn
// call and all receive the same entry. The generated entry is not admitted;
// callers admit it with Admit once the node is judged.
func (c *Cache) GetOrGenerate(ctx context.Context, fingerprint string, fn GenerateFunc) (*models.SkillEntry, error) {
	v, err, shared := c.generations.Do(fingerprint, func() (interface{}, error) {
		if e, err := c.store.Get(fingerprint); err != nil || e != nil {
			return e, err
		}
		c.generated.Add(1)
		e, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, fmt.Errorf("generation for %s returned no entry", fingerprint)
		}
		e.Fingerprint = fingerprint
		return e, nil
	})
	if shared {
		c.shared.Add(1)
	}
	if err != nil {
		return nil, err
	}
	e := *v.(*models.SkillEntry)
	return &e, nil
}

// Admit stores the node's code as a skill when score meets the threshold.
// It reports whether the entry was written.
func (c *Cache) Admit(node *models.TaskNode, score int) (bool, error) {
	if score < c.threshold || node.Code == "" || node.Type == models.NodeTypeQA {
		return false, nil
	}
	fp := Fingerprint(node.Type, node.Name)
	return c.Store(fp, &models.SkillEntry{
		Fingerprint: fp,
		Name:        node.Name,
		Type:        node.Type,
		Description: node.Description,
		Code:        node.Code,
		Invocation:  node.Invocation,
		Score:       score,
		Provenance:  node.Name,
		CreatedAt:   time.Now(),
	})
}

// Store writes entry under fingerprint if no entry exists or entry scores
// strictly higher than the existing one.
func (c *Cache) Store(fingerprint string, entry *models.SkillEntry) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cp := *entry
	cp.Fingerprint = fingerprint
	wrote, err := c.store.Put(&cp)
	if err != nil {
		return false, err
	}
	if wrote {
		c.writes.Add(1)
	}
	return wrote, nil
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Generations: c.generated.Load(),
		Shared:      c.shared.Load(),
		Writes:      c.writes.Load(),
	}
}
