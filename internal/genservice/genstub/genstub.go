// Package genstub provides a deterministic Generator for tests.
//
// Responses are scripted per prompt kind, optionally per node name, and can
// be queued so that consecutive calls for the same node return different
// answers. Every call is recorded.
package genstub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ShayCichocki/friday/internal/genservice"
)

// Handler computes a response for a request.
type Handler func(ctx context.Context, req genservice.Request) (string, error)

// Call records one Generate invocation.
type Call struct {
	Kind genservice.PromptKind
	Req  genservice.Request
}

// Stub is a scripted genservice.Generator. It is safe for concurrent use.
type Stub struct {
	mu       sync.Mutex
	handlers map[genservice.PromptKind]Handler
	queues   map[key][]string
	fallback map[genservice.PromptKind]string
	calls    []Call
	inFlight atomic.Int32
	peak     atomic.Int32
}

type key struct {
	kind genservice.PromptKind
	node string
}

// New creates an empty stub. Unscripted kinds return an error.
func New() *Stub {
	return &Stub{
		handlers: make(map[genservice.PromptKind]Handler),
		queues:   make(map[key][]string),
		fallback: make(map[genservice.PromptKind]string),
	}
}

// On sets a handler for kind. Handlers take precedence over queued and
// default responses.
func (s *Stub) On(kind genservice.PromptKind, h Handler) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
	return s
}

// Default sets the response for kind when nothing more specific is queued.
func (s *Stub) Default(kind genservice.PromptKind, response string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[kind] = response
	return s
}

// Queue appends responses returned, in order, for kind and node. Once the
// queue drains the default for kind applies.
func (s *Stub) Queue(kind genservice.PromptKind, node string, responses ...string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{kind, node}
	s.queues[k] = append(s.queues[k], responses...)
	return s
}

// Generate implements genservice.Generator.
func (s *Stub) Generate(ctx context.Context, kind genservice.PromptKind, req genservice.Request) (string, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Kind: kind, Req: req})
	h := s.handlers[kind]
	var resp string
	var ok bool
	if h == nil {
		k := key{kind, req.NodeName}
		if q := s.queues[k]; len(q) > 0 {
			resp, ok = q[0], true
			s.queues[k] = q[1:]
		} else {
			resp, ok = s.fallback[kind]
		}
	}
	s.mu.Unlock()

	if h != nil {
		return h(ctx, req)
	}
	if !ok {
		return "", fmt.Errorf("genstub: no response scripted for %s (node %q)", kind, req.NodeName)
	}
	return resp, nil
}

// Calls returns a copy of every recorded call.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many calls of kind were made, optionally for one node.
// An empty node counts every call of kind.
func (s *Stub) Count(kind genservice.PromptKind, node string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Kind == kind && (node == "" || c.Req.NodeName == node) {
			n++
		}
	}
	return n
}

// PeakConcurrency returns the largest number of overlapping Generate calls seen.
func (s *Stub) PeakConcurrency() int {
	return int(s.peak.Load())
}
