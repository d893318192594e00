// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// RWGuard wraps RWMutex around a value and lets readers wait for the next
// change. Each write bumps a version number.
type RWGuard[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	changed chan struct{}
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial, changed: make(chan struct{})}
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Load returns the value together with its version.
func (g *RWGuard[T]) Load() (T, uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value, g.version
}

// Set atomically replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.Write(func(p *T) { *p = v })
}

// Write executes fn while holding the write lock and publishes the result.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	fn(&g.value)
	g.publishLocked()
	g.mu.Unlock()
}

// Swap atomically replaces and returns old value.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	g.publishLocked()
	return old
}

// Changed returns a channel closed by the next write.
func (g *RWGuard[T]) Changed() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.changed
}

func (g *RWGuard[T]) publishLocked() {
	g.version++
	close(g.changed)
	g.changed = make(chan struct{})
}
