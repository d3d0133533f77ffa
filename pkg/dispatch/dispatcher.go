// Package dispatch routes decoded updates to the listener registry and then
// to the handler registry, applying dedup, priority ordering and
// continue/stop semantics.
package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"waveline/pkg/dedup"
	"waveline/pkg/filter"
	"waveline/pkg/handler"
	"waveline/pkg/listener"
	"waveline/pkg/update"
)

// CancelPolicy decides what happens to an update after it triggered a
// listener's cancel filter. The behavior changed across versions of the
// platform libraries, so it is configuration rather than a constant.
type CancelPolicy int

const (
	// ForwardCanceled lets a cancel-matched update also reach handlers.
	ForwardCanceled CancelPolicy = iota
	// ConsumeCanceled treats a cancel-matched update as used up.
	ConsumeCanceled
)

// Result summarizes how one update was routed, for logging and tests.
type Result struct {
	Duplicate       bool
	Listener        listener.Verdict
	HandlersMatched int
}

// Dispatcher owns the handler registry, the listener registry and the dedup
// guard, and runs the per-update routing state machine.
type Dispatcher struct {
	handlers  *handler.Registry
	listeners *listener.Registry
	guard     *dedup.Guard
	log       *slog.Logger

	continueAll    bool
	cancelPolicy   CancelPolicy
	forwardMatched bool
	dedupEnabled   bool
	dedupTTL       time.Duration

	queue *queue

	routed  atomic.Uint64
	dropped atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithContinueHandling makes unset callback verdicts continue to the next
// matching handler instead of stopping after the first match.
func WithContinueHandling(enabled bool) Option {
	return func(d *Dispatcher) { d.continueAll = enabled }
}

// WithCancelPolicy sets what happens to cancel-matched updates.
func WithCancelPolicy(policy CancelPolicy) Option {
	return func(d *Dispatcher) { d.cancelPolicy = policy }
}

// WithForwardMatched forwards listener-consumed updates to handlers as well.
// Off by default: a matched update was used by the waiting conversation.
func WithForwardMatched(enabled bool) Option {
	return func(d *Dispatcher) { d.forwardMatched = enabled }
}

// WithDedup toggles duplicate suppression.
func WithDedup(enabled bool) Option {
	return func(d *Dispatcher) { d.dedupEnabled = enabled }
}

// WithDedupTTL sets the duplicate-marker lifetime.
func WithDedupTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.dedupTTL = ttl }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithQueue sizes the buffered update queue drained by Workers.
func WithQueue(size int) Option {
	return func(d *Dispatcher) { d.queue = newQueue(size) }
}

// New builds a dispatcher, folding handler.Deferred registrations into its
// registry.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:     handler.NewRegistry(),
		dedupEnabled: true,
		dedupTTL:     dedup.DefaultTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "dispatch")
	d.listeners = listener.NewRegistry(d.log)
	d.guard = dedup.NewGuard(d.dedupTTL)
	if d.queue == nil {
		d.queue = newQueue(defaultQueueSize)
	}
	d.handlers.Merge(handler.Deferred)
	return d
}

// On registers a callback for a kind with the default priority. A nil
// filter matches every update of the kind.
func (d *Dispatcher) On(kind update.Kind, f filter.Filter, cb handler.Callback) handler.Handle {
	return d.handlers.Register(kind, f, cb, handler.DefaultPriority)
}

// OnPriority registers a callback for a kind with an explicit priority;
// lower priorities run first.
func (d *Dispatcher) OnPriority(kind update.Kind, f filter.Filter, cb handler.Callback, priority int) handler.Handle {
	return d.handlers.Register(kind, f, cb, priority)
}

// Off removes a previously registered callback.
func (d *Dispatcher) Off(h handler.Handle) bool {
	return d.handlers.Unregister(h)
}

// Listen blocks until an update matching opts arrives for identity. See
// listener.Registry.Wait for the full contract. Must not be called from a
// callback handling an update of the same identity in the same dispatch,
// since that dispatch has already passed the listener offer step.
func (d *Dispatcher) Listen(ctx context.Context, identity update.Identity, opts listener.Options) (*update.Update, error) {
	return d.listeners.Wait(ctx, identity, opts)
}

// StopListening force-cancels the pending listener for an identity.
func (d *Dispatcher) StopListening(identity update.Identity) bool {
	return d.listeners.Stop(identity)
}

// PendingListeners returns the number of in-flight listener waits.
func (d *Dispatcher) PendingListeners() int {
	return d.listeners.Pending()
}

// Stats returns how many updates were routed and how many were dropped as
// duplicates.
func (d *Dispatcher) Stats() (routed, dropped uint64) {
	return d.routed.Load(), d.dropped.Load()
}

// Route runs one update through the dispatch state machine: dedup check,
// listener offer, then handler iteration. Callback errors and panics are
// contained and logged; Route never fails because of a misbehaving handler.
func (d *Dispatcher) Route(ctx context.Context, u *update.Update) Result {
	var res Result

	if d.dedupEnabled && !d.guard.CheckAndMark(dedup.HashUpdate(u)) {
		d.dropped.Add(1)
		d.log.Debug("Dropped duplicate update", "update_id", u.ID, "kind", u.Kind)
		res.Duplicate = true
		return res
	}
	d.routed.Add(1)

	if u.HasIdentity() {
		res.Listener = d.listeners.Offer(ctx, u)
		switch res.Listener {
		case listener.VerdictMatched:
			if !d.forwardMatched {
				return res
			}
		case listener.VerdictCanceled:
			if d.cancelPolicy == ConsumeCanceled {
				return res
			}
		}
	}

	res.HandlersMatched = d.runHandlers(ctx, u)
	return res
}

func (d *Dispatcher) runHandlers(ctx context.Context, u *update.Update) int {
	matched := 0
	for _, entry := range d.handlers.ForKind(u.Kind) {
		if !d.safeMatch(ctx, entry, u) {
			continue
		}
		matched++
		d.safeInvoke(ctx, entry, u)

		switch u.Decision() {
		case update.DecisionStop:
			return matched
		case update.DecisionContinue:
			continue
		default:
			if !d.continueAll {
				return matched
			}
		}
	}
	return matched
}

// safeMatch evaluates a handler's filter; a panic counts as a non-match.
func (d *Dispatcher) safeMatch(ctx context.Context, entry handler.Entry, u *update.Update) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("Handler filter panicked", "update_id", u.ID, "handler_id", entry.ID, "panic", rec)
			matched = false
		}
	}()
	return entry.Filter(ctx, u)
}

// safeInvoke runs a callback, containing errors and panics so one
// misbehaving handler cannot starve the others or future updates.
func (d *Dispatcher) safeInvoke(ctx context.Context, entry handler.Entry, u *update.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("Handler callback panicked", "update_id", u.ID, "handler_id", entry.ID, "panic", rec)
		}
	}()
	if err := entry.Callback(ctx, u); err != nil {
		d.log.Error("Handler callback failed", "update_id", u.ID, "handler_id", entry.ID, "error", err)
	}
}
