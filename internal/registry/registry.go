// Package registry maps snapshot refs to the selectors that address them.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/polzovatel/browser-task-agent/internal/snapshot"
)

// ErrNotFound is returned when a ref is not part of the current generation.
var ErrNotFound = errors.New("ref not found")

// Selector addresses one marked element of a specific generation.
type Selector string

// Registry holds the ref table of the latest snapshot. Tables are replaced
// wholesale, never merged, so refs from an older generation never resolve.
type Registry struct {
	mu         sync.RWMutex
	generation string
	refs       map[int]Selector
}

func New() *Registry {
	return &Registry{refs: map[int]Selector{}}
}

// Rebuild replaces the table with the refs of snap.
func (r *Registry) Rebuild(snap *snapshot.Snapshot) {
	refs := make(map[int]Selector)
	gen := ""
	if snap != nil {
		gen = snap.Generation
		for _, ref := range snap.Refs() {
			refs[ref] = Selector(snap.Selector(ref))
		}
	}
	r.mu.Lock()
	r.generation = gen
	r.refs = refs
	r.mu.Unlock()
}

func (r *Registry) Resolve(ref int) (Selector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sel, ok := r.refs[ref]
	if !ok {
		if r.generation == "" {
			return "", fmt.Errorf("%w: %d (registry invalidated)", ErrNotFound, ref)
		}
		return "", fmt.Errorf("%w: %d in generation %s", ErrNotFound, ref, r.generation)
	}
	return sel, nil
}

// Invalidate drops every ref; the next snapshot rebuilds the table.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.generation = ""
	r.refs = map[int]Selector{}
	r.mu.Unlock()
}

func (r *Registry) Generation() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.refs)
}
