package registry

import (
	"slices"
	"sync"
)

// Entry is one committed registration.
type Entry[P any] struct {
	ID       ID
	Payload  P
	Ordering Ordering
}

// Registry is a keyed collection whose mutations are staged and only become
// visible at Flush. Insert and Remove may be called from any goroutine,
// including from a callback currently iterating a snapshot; Flush, Items and
// Drain belong to the owning execution context.
type Registry[P any] struct {
	mu             sync.Mutex // guards the pending sets
	pendingInserts map[ID]Entry[P]
	pendingRemoves map[ID]struct{}

	committedMu sync.RWMutex
	committed   map[ID]Entry[P]
	sorted      []Entry[P] // cached Items result, nil when stale
}

func New[P any]() *Registry[P] {
	return &Registry[P]{
		pendingInserts: make(map[ID]Entry[P]),
		pendingRemoves: make(map[ID]struct{}),
		committed:      make(map[ID]Entry[P]),
	}
}

// Insert stages a new entry.
func (r *Registry[P]) Insert(id ID, payload P, ordering Ordering) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingInserts[id] = Entry[P]{ID: id, Payload: payload, Ordering: ordering}
}

// Remove stages removal of id. An id that is still pending is dropped outright
// and never becomes visible.
func (r *Registry[P]) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pendingInserts[id]; ok {
		delete(r.pendingInserts, id)
		return
	}
	r.pendingRemoves[id] = struct{}{}
}

// Flush applies every staged insert and remove to the committed set.
func (r *Registry[P]) Flush() {
	r.mu.Lock()
	inserts, removes := r.pendingInserts, r.pendingRemoves
	if len(inserts) == 0 && len(removes) == 0 {
		r.mu.Unlock()
		return
	}
	r.pendingInserts = make(map[ID]Entry[P])
	r.pendingRemoves = make(map[ID]struct{})
	r.mu.Unlock()

	r.committedMu.Lock()
	defer r.committedMu.Unlock()
	for id, e := range inserts {
		r.committed[id] = e
	}
	for id := range removes {
		delete(r.committed, id)
	}
	r.sorted = nil
}

// Items returns the committed entries in ordering-then-id order. The returned
// slice is shared until the next Flush and must not be modified.
func (r *Registry[P]) Items() []Entry[P] {
	r.committedMu.RLock()
	if r.sorted != nil || len(r.committed) == 0 {
		s := r.sorted
		r.committedMu.RUnlock()
		return s
	}
	r.committedMu.RUnlock()

	r.committedMu.Lock()
	defer r.committedMu.Unlock()
	if r.sorted == nil {
		r.sorted = sortEntries(r.committed)
	}
	return r.sorted
}

// Drain returns the committed entries in ordering-then-id order and clears
// them.
func (r *Registry[P]) Drain() []Entry[P] {
	r.committedMu.Lock()
	defer r.committedMu.Unlock()
	if len(r.committed) == 0 {
		return nil
	}
	out := sortEntries(r.committed)
	r.committed = make(map[ID]Entry[P])
	r.sorted = nil
	return out
}

// Len returns the number of committed entries.
func (r *Registry[P]) Len() int {
	r.committedMu.RLock()
	defer r.committedMu.RUnlock()
	return len(r.committed)
}

// Clear drops committed and pending entries alike.
func (r *Registry[P]) Clear() {
	r.mu.Lock()
	r.pendingInserts = make(map[ID]Entry[P])
	r.pendingRemoves = make(map[ID]struct{})
	r.mu.Unlock()

	r.committedMu.Lock()
	r.committed = make(map[ID]Entry[P])
	r.sorted = nil
	r.committedMu.Unlock()
}

func sortEntries[P any](m map[ID]Entry[P]) []Entry[P] {
	out := make([]Entry[P], 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry[P]) int {
		if a.Ordering != b.Ordering {
			return int(a.Ordering) - int(b.Ordering)
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
