package internal

import (
	"sync"
)

// Handles maps opaque integer ids to Go values so that values can be referred
// to from C without passing Go pointers. Id 0 is never issued and stands for
// "null".
type Handles[T any] struct {
	mu     sync.Mutex
	next   uintptr
	values map[uintptr]T
}

// NewHandles creates an empty registry.
func NewHandles[T any]() *Handles[T] {
	return &Handles[T]{values: make(map[uintptr]T)}
}

// Put registers v and returns its id.
func (h *Handles[T]) Put(v T) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.values[h.next] = v
	return h.next
}

// Get returns the value registered under id.
func (h *Handles[T]) Get(id uintptr) (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[id]
	return v, ok
}

// Delete unregisters id and returns the value it held. A second Delete of the
// same id reports false, which callers use to reject double frees.
func (h *Handles[T]) Delete(id uintptr) (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[id]
	if ok {
		delete(h.values, id)
	}
	return v, ok
}

// Len returns the number of registered values.
func (h *Handles[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.values)
}

// Snapshot returns the registered values in no particular order.
func (h *Handles[T]) Snapshot() map[uintptr]T {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[uintptr]T, len(h.values))
	for id, v := range h.values {
		out[id] = v
	}
	return out
}
