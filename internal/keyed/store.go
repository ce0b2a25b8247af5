// Package keyed provides the concurrency-safe keyed store shared by every
// per-faction, per-region and per-resource-class table in the engine.
//
// Reads are lock-free; writes take a per-bucket lock inside xsync.MapOf, so a
// write to one key never blocks writers of unrelated keys.
package keyed

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Store maps string ids to values of type V. Values should be treated as
// immutable once stored: Update replaces them, it never mutates in place.
type Store[V any] struct {
	m *xsync.MapOf[string, V]
}

// New creates an empty store.
func New[V any]() *Store[V] {
	return &Store[V]{m: xsync.NewMapOf[string, V]()}
}

// Get returns the value for key and whether it exists.
func (s *Store[V]) Get(key string) (V, bool) {
	return s.m.Load(key)
}

// Put stores v under key, replacing any previous value.
func (s *Store[V]) Put(key string, v V) {
	s.m.Store(key, v)
}

// GetOrCreate returns the existing value or stores and returns create().
// create runs at most once per missing key.
func (s *Store[V]) GetOrCreate(key string, create func() V) V {
	v, _ := s.m.LoadOrCompute(key, create)
	return v
}

// Update atomically replaces the value for key with fn(old, loaded). The
// function runs under the key's bucket lock and must not call back into s.
func (s *Store[V]) Update(key string, fn func(old V, loaded bool) V) V {
	v, _ := s.m.Compute(key, func(old V, loaded bool) (V, bool) {
		return fn(old, loaded), false
	})
	return v
}

// Modify is Update restricted to existing keys: when key is absent nothing is
// stored and ok is false.
func (s *Store[V]) Modify(key string, fn func(old V) V) (v V, ok bool) {
	v, ok = s.m.Compute(key, func(old V, loaded bool) (V, bool) {
		if !loaded {
			return old, true
		}
		return fn(old), false
	})
	return v, ok
}

// Delete removes key.
func (s *Store[V]) Delete(key string) {
	s.m.Delete(key)
}

// Len returns the number of keys.
func (s *Store[V]) Len() int {
	return s.m.Size()
}

// Range calls fn for every entry until fn returns false. Entries added or
// removed during iteration may or may not be visited.
func (s *Store[V]) Range(fn func(key string, v V) bool) {
	s.m.Range(fn)
}

// Snapshot copies the store into a plain map.
func (s *Store[V]) Snapshot() map[string]V {
	out := make(map[string]V, s.m.Size())
	s.m.Range(func(k string, v V) bool {
		out[k] = v
		return true
	})
	return out
}

// Keys returns all keys in sorted order.
func (s *Store[V]) Keys() []string {
	keys := make([]string, 0, s.m.Size())
	s.m.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}
