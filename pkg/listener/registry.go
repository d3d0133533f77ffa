// Package listener implements the one-shot blocking rendezvous that lets a
// goroutine wait for the next update matching a filter for one conversation
// identity. The dispatcher offers every identity-bearing update here before
// consulting the handler registry.
package listener

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"waveline/pkg/filter"
	"waveline/pkg/update"
)

// Options declares what satisfies or aborts one wait.
type Options struct {
	// Accept satisfies the wait. Nil accepts the next update for the
	// identity regardless of shape.
	Accept filter.Filter
	// Cancel aborts the wait. Evaluated before Accept. Optional.
	Cancel filter.Filter
	// Timeout bounds the wait, measured from record insertion. Zero or
	// negative waits indefinitely (the context still applies).
	Timeout time.Duration
}

// Verdict is the dispatcher-visible result of offering an update.
type Verdict int

const (
	// VerdictNone: no pending listener, or its filters did not match.
	VerdictNone Verdict = iota
	// VerdictMatched: the accept filter matched and the waiter got the update.
	VerdictMatched
	// VerdictCanceled: the cancel filter matched and the wait was aborted.
	VerdictCanceled
)

func (v Verdict) String() string {
	switch v {
	case VerdictMatched:
		return "matched"
	case VerdictCanceled:
		return "canceled"
	default:
		return "none"
	}
}

type record struct {
	accept filter.Filter
	cancel filter.Filter
	slot   *slot
}

// Registry tracks at most one pending listener per identity. All
// check-and-insert and check-and-fill operations are mutually exclusive, so
// two updates for the same identity arriving concurrently cannot observe a
// half-updated record.
type Registry struct {
	mu      sync.Mutex
	pending map[update.Identity]*record
	log     *slog.Logger
}

// NewRegistry creates an empty listener registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		pending: make(map[update.Identity]*record),
		log:     log.With("component", "listener"),
	}
}

// Wait blocks until an update matching opts.Accept arrives for identity, the
// cancel filter matches, the timeout elapses, the context is canceled, or
// Stop is called. Exactly one of those resolves the wait.
func (r *Registry) Wait(ctx context.Context, identity update.Identity, opts Options) (*update.Update, error) {
	if identity.IsZero() {
		return nil, ErrIdentityRequired
	}

	rec, err := r.insert(identity, opts)
	if err != nil {
		return nil, err
	}

	var timeoutC <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case o := <-rec.slot.filled:
		return resolve(o)
	case <-timeoutC:
		if rec.slot.abandon() {
			r.remove(identity, rec)
			return nil, ErrTimeout
		}
		// A fill won the race; the real outcome takes precedence.
		return resolve(<-rec.slot.filled)
	case <-ctx.Done():
		if rec.slot.abandon() {
			r.remove(identity, rec)
			return nil, &CanceledError{Err: ctx.Err()}
		}
		return resolve(<-rec.slot.filled)
	}
}

// Offer evaluates a pending listener's filters against an update and fills
// its slot on a match. The cancel filter is checked first. Called by the
// dispatcher before handler iteration.
func (r *Registry) Offer(ctx context.Context, u *update.Update) Verdict {
	if u == nil || !u.HasIdentity() {
		return VerdictNone
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pending[u.Identity]
	if !ok {
		return VerdictNone
	}

	if rec.cancel != nil && r.safeMatch(ctx, rec.cancel, u) {
		delete(r.pending, u.Identity)
		if rec.slot.fill(outcome{kind: outcomeCanceled, u: u}) {
			return VerdictCanceled
		}
		return VerdictNone
	}

	if r.safeMatch(ctx, rec.accept, u) {
		delete(r.pending, u.Identity)
		if rec.slot.fill(outcome{kind: outcomeMatched, u: u}) {
			return VerdictMatched
		}
		return VerdictNone
	}

	return VerdictNone
}

// Stop force-cancels the pending listener for an identity, without knowledge
// of the waiting goroutine. The waiter observes a CanceledError with a nil
// update. Reports whether a wait was stopped.
func (r *Registry) Stop(identity update.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pending[identity]
	if !ok {
		return false
	}
	delete(r.pending, identity)
	return rec.slot.fill(outcome{kind: outcomeCanceled})
}

// StopAll force-cancels every pending listener. Used at shutdown.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	stopped := 0
	for identity, rec := range r.pending {
		delete(r.pending, identity)
		if rec.slot.fill(outcome{kind: outcomeCanceled}) {
			stopped++
		}
	}
	return stopped
}

// Pending returns the number of in-flight listeners.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) insert(identity update.Identity, opts Options) (*record, error) {
	accept := opts.Accept
	if accept == nil {
		accept = filter.All
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[identity]; exists {
		return nil, ErrAlreadyListening
	}

	rec := &record{accept: accept, cancel: opts.Cancel, slot: newSlot()}
	r.pending[identity] = rec
	return rec, nil
}

// remove deletes the record only if it is still the one this waiter owns; a
// replacement listener registered after a fill must not be disturbed.
func (r *Registry) remove(identity update.Identity, rec *record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.pending[identity]; ok && current == rec {
		delete(r.pending, identity)
	}
}

// safeMatch evaluates a filter, treating a panic as a non-match. A broken
// filter must never take down the dispatch path.
func (r *Registry) safeMatch(ctx context.Context, f filter.Filter, u *update.Update) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Listener filter panicked", "update_id", u.ID, "panic", rec)
			matched = false
		}
	}()
	return f(ctx, u)
}

func resolve(o outcome) (*update.Update, error) {
	if o.kind == outcomeMatched {
		return o.u, nil
	}
	return nil, &CanceledError{Update: o.u}
}
