// Package memo provides a request-scoped memoisation map. A Map is created
// for one request and passed explicitly to the code that needs it; it is
// never stored in package-level state.
package memo

import "sync"

type entry[V any] struct {
	once sync.Once
	val  V
	err  error
}

// Map memoises the result of compute functions by key. Errors are memoised
// too, so a failing lookup is not repeated within the same request.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
}

// New creates an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{entries: make(map[K]*entry[V])}
}

// Do returns the memoised value for key, calling compute at most once per
// key. Concurrent callers for the same key wait for the first computation.
func (m *Map[K, V]) Do(key K, compute func() (V, error)) (V, error) {
	if m == nil {
		return compute()
	}
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry[V]{}
		m.entries[key] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		e.val, e.err = compute()
	})
	return e.val, e.err
}

// Forget drops the memoised value for key.
func (m *Map[K, V]) Forget(key K) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}
