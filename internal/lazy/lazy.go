// Package lazy holds expensive resources (models, clients) that are loaded on
// first use and then shared for the lifetime of a run.
package lazy

import (
	"io"
	"sync"
)

// Handle loads a resource at most once. A failed load is remembered, so every
// later Get returns the same error without retrying.
type Handle[T io.Closer] struct {
	load func() (T, error)

	once   sync.Once
	mu     sync.Mutex
	value  T
	err    error
	loaded bool
}

// New returns a Handle that calls load on the first Get.
func New[T io.Closer](load func() (T, error)) *Handle[T] {
	return &Handle[T]{load: load}
}

// Ready returns a Handle that already holds v.
func Ready[T io.Closer](v T) *Handle[T] {
	h := &Handle[T]{value: v, loaded: true}
	h.once.Do(func() {})
	return h
}

// Get returns the resource, loading it if needed.
func (h *Handle[T]) Get() (T, error) {
	h.once.Do(func() {
		v, err := h.load()
		h.mu.Lock()
		h.value, h.err, h.loaded = v, err, err == nil
		h.mu.Unlock()
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err
}

// Loaded reports whether the resource has been loaded successfully.
func (h *Handle[T]) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Close releases the resource if it was loaded. Calling Close on a handle that
// was never used does not trigger a load. The handle must not be used after Close.
func (h *Handle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return nil
	}
	h.loaded = false
	return h.value.Close()
}
