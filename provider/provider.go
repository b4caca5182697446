// Package provider implements string-keyed lookup of pluggable implementations
// (KV backends, ERS backends, cache providers).
//
// A Registry is built once at startup and injected where backend selection is
// needed. Instances are created lazily on first lookup and cached; the cache
// can be dropped and is rebuilt on demand.
package provider

import (
	"fmt"
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// NotFoundError is returned when no provider is registered under an id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s provider found for id %q", e.Kind, e.ID)
}

type Factory[T any] func() (T, error)

type Registry[T any] struct {
	kind string

	mu        sync.RWMutex
	factories map[string]Factory[T]

	instances *xsync.MapOf[string, T]
}

func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:      kind,
		factories: make(map[string]Factory[T]),
		instances: xsync.NewMapOf[string, T](),
	}
}

func (r *Registry[T]) Kind() string {
	return r.kind
}

// Register adds a factory under id, replacing any previous registration and
// its cached instance.
func (r *Registry[T]) Register(id string, f Factory[T]) {
	if f == nil {
		panic(fmt.Errorf("%s provider %q: nil factory", r.kind, id))
	}
	r.mu.Lock()
	r.factories[id] = f
	r.mu.Unlock()
	r.instances.Delete(id)
}

// RegisterInstance registers a ready-made provider.
func (r *Registry[T]) RegisterInstance(id string, v T) {
	r.Register(id, func() (T, error) { return v, nil })
}

// Lookup returns the provider for id, creating it on first use.
func (r *Registry[T]) Lookup(id string) (T, error) {
	if v, ok := r.instances.Load(id); ok {
		return v, nil
	}

	r.mu.RLock()
	f := r.factories[id]
	r.mu.RUnlock()
	if f == nil {
		var zero T
		return zero, &NotFoundError{Kind: r.kind, ID: id}
	}

	v, err := f()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s provider %q: %w", r.kind, id, err)
	}
	actual, _ := r.instances.LoadOrStore(id, v)
	return actual, nil
}

func (r *Registry[T]) MustLookup(id string) T {
	v, err := r.Lookup(id)
	if err != nil {
		panic(err)
	}
	return v
}

// Drop forgets the cached instance for id; the next Lookup recreates it.
func (r *Registry[T]) Drop(id string) {
	r.instances.Delete(id)
}

// DropAll forgets every cached instance.
func (r *Registry[T]) DropAll() {
	r.instances.Clear()
}

// Cached reports how many instances are currently cached.
func (r *Registry[T]) Cached() int {
	return r.instances.Size()
}

// IDs returns the registered ids in sorted order.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
