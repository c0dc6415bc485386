// Package scope implements the mutable variable store threaded through one
// workflow execution. The top-level scope has a single writer (the engine);
// parallel branches operate on Clone()d copies that are merged back under
// the engine's write lock after join.
package scope

import (
	"encoding/json"
	"sync"

	"dario.cat/mergo"
)

// Scope is the key/value variable store for a single execution.
type Scope struct {
	mu   sync.RWMutex
	vars map[string]any
}

// New creates a Scope seeded with the given variables. The initial map is
// deep-copied so callers cannot mutate scope state from outside.
func New(initial map[string]any) *Scope {
	return &Scope{vars: deepCopyMap(initial)}
}

// Get returns the value bound to name and whether it exists.
func (s *Scope) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Set binds name to value.
func (s *Scope) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vars == nil {
		s.vars = make(map[string]any)
	}
	s.vars[name] = value
}

// Delete removes a binding. Missing names are a no-op.
func (s *Scope) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, name)
}

// SetAll merges the given map into the scope, overwriting existing keys.
func (s *Scope) SetAll(vars map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vars == nil {
		s.vars = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		s.vars[k] = v
	}
}

// Snapshot returns a deep copy of the current variables. The copy is safe
// to hand to expression evaluators as a read-only view.
func (s *Scope) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := deepCopyMap(s.vars)
	if cp == nil {
		cp = make(map[string]any)
	}
	return cp
}

// Clone returns an isolated copy of the scope for a parallel branch.
// Branch-local writes do not leak to siblings or the parent.
func (s *Scope) Clone() *Scope {
	return New(s.Snapshot())
}

// Merge folds another scope's variables into this one, overwriting on
// conflict. Merging branch clones in branch-index order yields the
// deterministic last-writer-wins policy for parallel joins.
func (s *Scope) Merge(other *Scope) error {
	incoming := other.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vars == nil {
		s.vars = make(map[string]any, len(incoming))
	}
	return mergo.Merge(&s.vars, incoming, mergo.WithOverride)
}

// Len returns the number of bound variables.
func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

// --- Deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
