// Package handler keeps the ordered registry of persistent update callbacks.
package handler

import (
	"context"
	"sort"
	"sync"

	"waveline/pkg/filter"
	"waveline/pkg/update"
)

// DefaultPriority is used when a registration does not care about ordering.
const DefaultPriority = 100

// Callback processes one matched update. A returned error is logged by the
// dispatcher and never propagated to the webhook caller.
type Callback func(ctx context.Context, u *update.Update) error

// Handle identifies one registration for later removal.
type Handle struct {
	id uint64
}

// Entry is one registered (kind, filter, callback, priority) tuple. Entries
// are never mutated after registration.
type Entry struct {
	ID       uint64
	Kind     update.Kind
	Filter   filter.Filter
	Callback Callback
	Priority int

	seq uint64
}

// Registry is an ordered, thread-safe collection of handler entries keyed by
// update kind. Ordering is ascending priority, ties broken by registration
// order. Registering the same callback twice creates two independent entries.
type Registry struct {
	mu      sync.RWMutex
	nextID  uint64
	nextSeq uint64
	byKind  map[update.Kind][]Entry
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[update.Kind][]Entry)}
}

// Register adds a callback for a kind under the given filter and priority.
// A nil filter matches every update of the kind.
func (r *Registry) Register(kind update.Kind, f filter.Filter, cb Callback, priority int) Handle {
	if f == nil {
		f = filter.All
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.nextSeq++
	entry := Entry{
		ID:       r.nextID,
		Kind:     kind,
		Filter:   f,
		Callback: cb,
		Priority: priority,
		seq:      r.nextSeq,
	}
	r.byKind[kind] = insertOrdered(r.byKind[kind], entry)

	return Handle{id: entry.ID}
}

// Unregister removes the entry identified by the handle. It reports whether
// an entry was removed. Removing an entry during dispatch does not disturb
// entries the dispatcher has already passed.
func (r *Registry) Unregister(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, entries := range r.byKind {
		for i, entry := range entries {
			if entry.ID == h.id {
				r.byKind[kind] = append(entries[:i:i], entries[i+1:]...)
				return true
			}
		}
	}

	return false
}

// ForKind returns the ordered entries registered for a kind. The result is a
// snapshot: concurrent registration changes do not affect an iteration that
// is already underway.
func (r *Registry) ForKind(kind update.Kind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byKind[kind]
	if len(entries) == 0 {
		return nil
	}

	snapshot := make([]Entry, len(entries))
	copy(snapshot, entries)
	return snapshot
}

// Len returns the total number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, entries := range r.byKind {
		total += len(entries)
	}
	return total
}

// Merge copies every entry of other into r, preserving priorities and the
// relative registration order. Used to fold the deferred template registry
// into a dispatcher's own registry at construction time.
func (r *Registry) Merge(other *Registry) {
	if other == nil {
		return
	}

	other.mu.RLock()
	imported := make([]Entry, 0)
	for _, entries := range other.byKind {
		imported = append(imported, entries...)
	}
	other.mu.RUnlock()

	sort.SliceStable(imported, func(i, j int) bool { return imported[i].seq < imported[j].seq })

	for _, entry := range imported {
		r.Register(entry.Kind, entry.Filter, entry.Callback, entry.Priority)
	}
}

func insertOrdered(entries []Entry, entry Entry) []Entry {
	at := sort.Search(len(entries), func(i int) bool {
		if entries[i].Priority != entry.Priority {
			return entries[i].Priority > entry.Priority
		}
		return entries[i].seq > entry.seq
	})

	entries = append(entries, Entry{})
	copy(entries[at+1:], entries[at:])
	entries[at] = entry
	return entries
}
