package listener

import (
	"sync/atomic"

	"waveline/pkg/update"
)

type outcomeKind int

const (
	outcomeMatched outcomeKind = iota
	outcomeCanceled
)

// outcome is the tagged result handed through a slot. Timeouts never travel
// through the slot; the waiter claims the slot for itself instead.
type outcome struct {
	kind outcomeKind
	u    *update.Update
}

const (
	slotFree int32 = iota
	slotFilled
	slotAbandoned
)

// slot is a single-assignment, single-consumer handoff cell. The state CAS
// guarantees exactly one of a racing fill and a racing timeout claim wins,
// so at most one goroutine is ever unblocked and a waiter never observes a
// spurious timeout after a real fill.
type slot struct {
	state  atomic.Int32
	filled chan outcome
}

func newSlot() *slot {
	return &slot{filled: make(chan outcome, 1)}
}

// fill hands an outcome to the waiter. It reports false when the slot was
// already filled or abandoned.
func (s *slot) fill(o outcome) bool {
	if !s.state.CompareAndSwap(slotFree, slotFilled) {
		return false
	}
	s.filled <- o
	return true
}

// abandon claims the slot on the waiter's side (timeout or context
// cancellation). When it reports false a fill won the race and the waiter
// must consume the delivered outcome instead.
func (s *slot) abandon() bool {
	return s.state.CompareAndSwap(slotFree, slotAbandoned)
}
