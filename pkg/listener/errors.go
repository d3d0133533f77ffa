package listener

import (
	"errors"

	"waveline/pkg/update"
)

// ErrAlreadyListening reports a second Wait for an identity that already has
// a pending listener. This is a caller bug, surfaced fast instead of
// deadlocking or overwriting the pending record.
var ErrAlreadyListening = errors.New("a listener is already pending for this identity")

// ErrTimeout reports that the wait deadline elapsed with no matching update.
var ErrTimeout = errors.New("listener timed out")

// ErrIdentityRequired reports a Wait with a zero identity.
var ErrIdentityRequired = errors.New("listener requires a non-zero identity")

// CanceledError reports that a pending wait was canceled. Update carries the
// canceling update when a cancel filter matched; it is nil for an explicit
// Stop or a context cancellation, in which case Err holds the cause.
type CanceledError struct {
	Update *update.Update
	Err    error
}

func (e *CanceledError) Error() string {
	switch {
	case e.Update != nil:
		return "listener canceled by update " + e.Update.ID
	case e.Err != nil:
		return "listener canceled: " + e.Err.Error()
	default:
		return "listener stopped"
	}
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}
