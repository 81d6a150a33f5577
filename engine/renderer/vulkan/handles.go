package vulkan

import (
	"sync"
	"sync/atomic"
)

// handleTable maps the opaque metadata handles to vk objects. Handles come
// from a counter shared by every table of a Device, so zero is never issued
// and never collides across kinds.
type handleTable[T comparable] struct {
	mu      sync.RWMutex
	next    *atomic.Uint64
	entries map[uint64]T
}

func newHandleTable[T comparable](next *atomic.Uint64) *handleTable[T] {
	return &handleTable[T]{next: next, entries: make(map[uint64]T)}
}

func (t *handleTable[T]) put(v T) uint64 {
	h := t.next.Add(1)
	t.mu.Lock()
	t.entries[h] = v
	t.mu.Unlock()
	return h
}

// get returns the zero value, the vk null handle, for unknown handles.
func (t *handleTable[T]) get(h uint64) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[h]
}

func (t *handleTable[T]) take(h uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[h]
	delete(t.entries, h)
	return v, ok
}

// sweep drops every entry matching drop and returns how many went.
func (t *handleTable[T]) sweep(drop func(T) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for h, v := range t.entries {
		if drop(v) {
			delete(t.entries, h)
			n++
		}
	}
	return n
}

func (t *handleTable[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func resolve[H ~uint64, T comparable](t *handleTable[T], hs []H) []T {
	out := make([]T, len(hs))
	for i, h := range hs {
		out[i] = t.get(uint64(h))
	}
	return out
}
