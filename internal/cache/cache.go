// Package cache holds the in-memory copy of the last-fetched collection for
// each feature area, mirrored to the local store for instant reload.
package cache

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/honeyecosystem/sync/internal/store"
)

// Collection is the resource cache for one feature area. Each poll tick
// replaces the base collection wholesale; reads see the base with any pending
// optimistic overlay applied on top, so an in-flight local mutation is not
// clobbered by a concurrently arriving poll response.
type Collection[T any] struct {
	name    string
	backend store.Store

	mu      sync.RWMutex
	items   []T
	seq     uint64
	overlay func([]T) []T
	subs    []chan struct{}
}

// NewCollection constructs the cache for a named collection, loading any
// mirrored copy from the local store. backend may be nil for purely
// transient collections. The sequence guard only orders fetches within one
// process, so it restarts at zero: the mirrored items serve reads until the
// first completed fetch of the new process replaces them.
func NewCollection[T any](name string, backend store.Store) *Collection[T] {
	c := &Collection[T]{name: name, backend: backend}

	if backend == nil {
		return c
	}
	rec, err := backend.Get(name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("load cached collection", "collection", name, "error", err)
		}
		return c
	}
	var items []T
	if err := json.Unmarshal(rec.Payload, &items); err != nil {
		slog.Warn("decode cached collection", "collection", name, "error", err)
		return c
	}
	c.items = items
	return c
}

// Replace substitutes the whole base collection. A replacement whose sequence
// is not newer than the last applied one is discarded, so a slow-arriving
// earlier response can never overwrite a later one. Returns whether the
// replacement was applied.
func (c *Collection[T]) Replace(items []T, seq uint64) bool {
	c.mu.Lock()
	if seq <= c.seq && c.seq > 0 {
		c.mu.Unlock()
		return false
	}
	c.items = append([]T(nil), items...)
	c.seq = seq
	c.persistLocked()
	subs := append([]chan struct{}(nil), c.subs...)
	c.mu.Unlock()

	notify(subs)
	return true
}

// PatchBase applies an authoritative in-place edit to the base collection,
// e.g. folding a mutation response into the cached items. The sequence is
// untouched: the next completed poll still wins.
func (c *Collection[T]) PatchBase(fn func([]T) []T) {
	c.mu.Lock()
	c.items = fn(append([]T(nil), c.items...))
	c.persistLocked()
	subs := append([]chan struct{}(nil), c.subs...)
	c.mu.Unlock()

	notify(subs)
}

// Snapshot returns a copy of the collection with the optimistic overlay
// applied.
func (c *Collection[T]) Snapshot() []T {
	c.mu.RLock()
	items := append([]T(nil), c.items...)
	overlay := c.overlay
	c.mu.RUnlock()

	if overlay != nil {
		items = overlay(items)
	}
	return items
}

// Seq returns the sequence of the last applied replacement.
func (c *Collection[T]) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Len returns the current base collection size.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// SetOverlay installs the pending-intent transform applied to every read.
func (c *Collection[T]) SetOverlay(fn func([]T) []T) {
	c.mu.Lock()
	c.overlay = fn
	c.mu.Unlock()
}

// Subscribe returns a channel that receives a signal after every applied
// replacement or patch. The channel is buffered; slow readers coalesce.
func (c *Collection[T]) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

func (c *Collection[T]) persistLocked() {
	if c.backend == nil {
		return
	}
	payload, err := json.Marshal(c.items)
	if err != nil {
		slog.Warn("encode cached collection", "collection", c.name, "error", err)
		return
	}
	if err := c.backend.Put(c.name, store.Record{Payload: payload, Seq: c.seq}); err != nil {
		slog.Warn("mirror cached collection", "collection", c.name, "error", err)
	}
}

func notify(subs []chan struct{}) {
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
