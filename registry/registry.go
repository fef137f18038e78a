// Package registry provides a generic concurrent store for live sessions,
// keyed either by caller-chosen keys or by ids allocated from a
// monotonically increasing counter.
package registry

import (
	"sync"
	"sync/atomic"
)

// Registry is a concurrent map that is safe for use by multiple goroutines.
// It wraps sync.Map with a typed API. Registry must not be copied after
// first use.
type Registry[K comparable, V any] struct {
	m sync.Map
}

// New returns an empty Registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{}
}

// Store sets the value for key k, replacing any existing entry.
func (r *Registry[K, V]) Store(k K, v V) {
	r.m.Store(k, v)
}

// StoreNew sets the value for k only if k is not yet present.
//
// Returns:
//   - true if v was stored, false if k was already taken
func (r *Registry[K, V]) StoreNew(k K, v V) bool {
	_, loaded := r.m.LoadOrStore(k, v)
	return !loaded
}

// Get returns the value for key k and whether it was present.
func (r *Registry[K, V]) Get(k K) (V, bool) {
	v, found := r.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Delete removes k. Deleting an absent key is a no-op.
func (r *Registry[K, V]) Delete(k K) {
	r.m.Delete(k)
}

// Range calls f for each entry until f returns false.
func (r *Registry[K, V]) Range(f func(k K, v V) bool) {
	r.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len counts the entries. It is O(n).
func (r *Registry[K, V]) Len() int {
	n := 0
	r.Range(func(K, V) bool {
		n++
		return true
	})

	return n
}

// IdGenerator hands out uint32 ids in a concurrency-safe manner. The first
// Id() returns startValue+1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator starting after startValue.
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id.
func (g *IdGenerator) Id() uint32 {
	return g.id.Add(1)
}

// Sessions is a Registry keyed by generated ids.
type Sessions[V any] struct {
	Registry[uint32, V]
	ids *IdGenerator
}

// NewSessions returns an empty id-keyed registry whose first id is 1.
func NewSessions[V any]() *Sessions[V] {
	return &Sessions[V]{ids: NewIdGenerator(0)}
}

// Next allocates an id without storing anything. Values that log their id
// are built with it first and stored afterwards.
func (s *Sessions[V]) Next() uint32 {
	return s.ids.Id()
}
