// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package syncutil

import "sync"

// Set is a concurrency-safe set of items of type V. The zero value is an
// empty set, ready for use.
type Set[V comparable] struct {
	m sync.Map // V -> struct{}
}

// Add adds the given value to the set. Returns true if the value was added,
// or false if it was already present.
func (s *Set[V]) Add(v V) bool {
	_, loaded := s.m.LoadOrStore(v, struct{}{})
	return !loaded
}

// Contains returns true if the set contains the given value.
func (s *Set[V]) Contains(v V) bool {
	_, ok := s.m.Load(v)
	return ok
}

// Remove removes the given value from the set. Returns true if the value was
// removed, or false if it was not present.
func (s *Set[V]) Remove(v V) bool {
	_, loaded := s.m.LoadAndDelete(v)
	return loaded
}

// Range calls f sequentially for each value in the set. If f returns false,
// the iteration stops. The iteration order is not defined, and f may or may
// not observe values added or removed concurrently with the iteration.
func (s *Set[V]) Range(f func(v V) bool) {
	s.m.Range(func(k, _ any) bool {
		return f(k.(V))
	})
}

// Len returns the number of values in the set. The count is computed by a
// full iteration and is only a snapshot if the set is mutated concurrently.
func (s *Set[V]) Len() int {
	var n int
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
