// Package dedupe remembers recently seen keys so at-least-once deliveries
// are applied once.
package dedupe

import (
	"container/list"
	"sync"
)

// DefaultSize is the number of keys a Window keeps when created with size <= 0.
const DefaultSize = 4096

// Window is a size-bounded set of recently seen keys. When full, the oldest
// key is forgotten. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	seen  map[string]*list.Element
	order *list.List // oldest at front
	size  int
}

// New creates a window holding at most size keys.
func New(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{
		seen:  make(map[string]*list.Element, size),
		order: list.New(),
		size:  size,
	}
}

// Seen reports whether key was already in the window and records it if not.
// Empty keys are never considered seen.
func (w *Window) Seen(key string) bool {
	if key == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; ok {
		return true
	}
	if w.order.Len() >= w.size {
		w.evictOldest()
	}
	w.seen[key] = w.order.PushBack(key)
	return false
}

// Contains reports whether key is in the window without recording it.
func (w *Window) Contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[key]
	return ok
}

// Len returns the number of remembered keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}

// Reset forgets every key.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]*list.Element, w.size)
	w.order.Init()
}

// evictOldest must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, key)
}
