// Package intent models optimistic mutations as pending-intent records so
// instant local feedback can be reconciled against server truth instead of
// being silently clobbered or left dangling.
package intent

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry[T any] struct {
	id      string
	apply   func([]T) []T
	created time.Time
}

// Journal tracks the pending optimistic mutations for one collection. Reads
// re-apply every pending intent on top of the base collection; resolving an
// intent (confirmed success or failure) removes it, which for a failure
// amounts to replaying the original state.
type Journal[T any] struct {
	mu      sync.Mutex
	entries []entry[T]
}

// NewJournal constructs an empty journal.
func NewJournal[T any]() *Journal[T] {
	return &Journal[T]{}
}

// Add registers a pending intent and returns its id.
func (j *Journal[T]) Add(apply func([]T) []T) string {
	id := uuid.NewString()
	j.mu.Lock()
	j.entries = append(j.entries, entry[T]{id: id, apply: apply, created: time.Now()})
	j.mu.Unlock()
	return id
}

// Resolve removes the intent with the given id. Unknown ids are ignored.
func (j *Journal[T]) Resolve(id string) {
	j.mu.Lock()
	for i, e := range j.entries {
		if e.id == id {
			j.entries = append(j.entries[:i], j.entries[i+1:]...)
			break
		}
	}
	j.mu.Unlock()
}

// Apply runs every pending intent over items in creation order.
func (j *Journal[T]) Apply(items []T) []T {
	j.mu.Lock()
	entries := append([]entry[T](nil), j.entries...)
	j.mu.Unlock()

	for _, e := range entries {
		items = e.apply(items)
	}
	return items
}

// Pending returns the number of unresolved intents.
func (j *Journal[T]) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
