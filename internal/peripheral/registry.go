package peripheral

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var (
	ErrModuleNil   = errors.New("peripheral: module is nil")
	ErrInvalidKind = errors.New("peripheral: kind is not routable")
)

// Registry maps a command kind to the module that handles it.
type Registry struct {
	mu    sync.RWMutex
	items map[schema.Kind]Module
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[schema.Kind]Module)}
}

// Register adds m under m.Kind(). A later registration for the same kind
// replaces the earlier one.
func (r *Registry) Register(m Module) error {
	if m == nil {
		return ErrModuleNil
	}
	kind := m.Kind()
	if !kind.Routable() {
		return fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[kind]; ok {
		log.Warn().Stringer("kind", kind).Msg("registry: replacing module")
	}
	r.items[kind] = m
	return nil
}

// Deregister removes the module for kind and reports whether one existed.
func (r *Registry) Deregister(kind schema.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[kind]
	delete(r.items, kind)
	return ok
}

func (r *Registry) Lookup(kind schema.Kind) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[kind]
	return m, ok
}

// Kinds returns registered kinds in ascending order.
func (r *Registry) Kinds() []schema.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.Kind, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// ResetAll calls Reset on every registered module.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.items {
		m.Reset()
	}
}
