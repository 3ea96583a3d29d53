// Package weakref provides a registry that tracks values through weak
// pointers, so a long-lived owner never keeps its entries alive on its own.
// Dead entries are scavenged opportunistically during iteration.
package weakref

import (
	"sync"
	"weak"
)

// Registry maps stable uint64 ids to weakly-held values. The zero id is never
// issued, so 0 can be used as an invalid marker by callers.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[uint64]weak.Pointer[T]
	nextID  uint64
}

func New[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[uint64]weak.Pointer[T]),
		nextID:  1,
	}
}

// Add registers v and returns its id. The registry does not keep v alive.
func (r *Registry[T]) Add(v *T) uint64 {
	wp := weak.Make(v)

	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.entries[id] = wp
	return id
}

// Remove drops the entry for id, if present.
func (r *Registry[T]) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Each calls fn for every still-live value until fn returns false. Entries
// whose value has been reclaimed are deleted along the way. Iteration order
// is unspecified.
func (r *Registry[T]) Each(fn func(v *T) bool) {
	r.mu.Lock()
	type live struct {
		id uint64
		wp weak.Pointer[T]
	}
	snapshot := make([]live, 0, len(r.entries))
	for id, wp := range r.entries {
		snapshot = append(snapshot, live{id, wp})
	}
	r.mu.Unlock()

	// Resolve weak pointers outside the lock; fn may call back into the
	// registry.
	var dead []uint64
	for _, it := range snapshot {
		v := it.wp.Value()
		if v == nil {
			dead = append(dead, it.id)
			continue
		}
		if !fn(v) {
			break
		}
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, id := range dead {
			delete(r.entries, id)
		}
		r.mu.Unlock()
	}
}

// Len reports the number of live entries, scavenging dead ones first.
func (r *Registry[T]) Len() int {
	n := 0
	r.Each(func(*T) bool {
		n++
		return true
	})
	return n
}
