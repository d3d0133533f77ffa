// Package update defines the decoded inbound event model shared by the
// dispatcher, filters, handlers and listeners.
package update

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// Kind discriminates the decoded update variants.
type Kind string

const (
	KindMessage        Kind = "message"
	KindButtonClick    Kind = "button_click"
	KindSelection      Kind = "selection"
	KindStatusChange   Kind = "status_change"
	KindFlowCompletion Kind = "flow_completion"
	KindCallEvent      Kind = "call_event"
	KindTemplateStatus Kind = "template_status"
	KindRaw            Kind = "raw"
)

// Identity is the (sender, recipient) pair that scopes a conversation.
// It is comparable and used directly as a map key by the listener registry.
type Identity struct {
	SenderID    string
	RecipientID string
}

// IsZero reports whether the identity is absent (account-level updates).
func (id Identity) IsZero() bool {
	return id.SenderID == "" && id.RecipientID == ""
}

func (id Identity) String() string {
	return id.SenderID + ">" + id.RecipientID
}

// Decision is the handling verdict a callback may record on an update.
type Decision int32

const (
	DecisionUnset Decision = iota
	DecisionContinue
	DecisionStop
)

// ErrNoReplier is returned by reply helpers when no capability is bound.
var ErrNoReplier = errors.New("update has no reply capability bound")

// Replier is the outbound capability attached to an update before dispatch.
// The REST client provides the production implementation.
type Replier interface {
	SendText(ctx context.Context, to string, text string) (string, error)
	React(ctx context.Context, to string, messageID string, emoji string) error
	MarkRead(ctx context.Context, messageID string) error
}

// Update is one decoded inbound event. It is immutable after decode except
// for the handling decision, which a callback may set exactly once during a
// dispatch. The decision is owned by the dispatch that delivers the update
// and is never shared across concurrently routed updates.
type Update struct {
	// ID is the platform event id. It is content-derived, so redeliveries
	// of the same logical event carry an equal ID.
	ID        string
	Kind      Kind
	Identity  Identity
	Timestamp time.Time

	// Per-kind decoded views. Only the fields relevant to Kind are set.
	Text           string
	ButtonID       string
	ButtonTitle    string
	SelectionID    string
	SelectionTitle string
	Status         string
	FlowToken      string
	FlowResponse   string
	CallID         string
	CallEvent      string
	TemplateID     string
	TemplateEvent  string

	// Raw is the original change payload as delivered by the platform.
	Raw []byte

	decision atomic.Int32
	replier  Replier
}

// HasIdentity reports whether the update is user-originated and therefore
// eligible for listener rendezvous.
func (u *Update) HasIdentity() bool {
	return !u.Identity.IsZero()
}

// StopHandling records a stop verdict. The first recorded verdict wins;
// later calls are no-ops.
func (u *Update) StopHandling() {
	u.decision.CompareAndSwap(int32(DecisionUnset), int32(DecisionStop))
}

// ContinueHandling records a continue verdict. The first recorded verdict
// wins; later calls are no-ops.
func (u *Update) ContinueHandling() {
	u.decision.CompareAndSwap(int32(DecisionUnset), int32(DecisionContinue))
}

// Decision returns the verdict recorded by callbacks so far.
func (u *Update) Decision() Decision {
	return Decision(u.decision.Load())
}

// Get reads a field from the raw change payload by gjson path, for update
// shapes the typed views do not cover.
func (u *Update) Get(path string) gjson.Result {
	return gjson.GetBytes(u.Raw, path)
}

// BindReplier attaches the outbound capability. Called once, before dispatch.
func (u *Update) BindReplier(r Replier) {
	u.replier = r
}

// Replier returns the bound outbound capability, or nil.
func (u *Update) Replier() Replier {
	return u.replier
}

// Reply sends a text message back to the update's sender.
func (u *Update) Reply(ctx context.Context, text string) (string, error) {
	if u.replier == nil {
		return "", ErrNoReplier
	}
	return u.replier.SendText(ctx, u.Identity.SenderID, text)
}

// React adds an emoji reaction to the update's source message.
func (u *Update) React(ctx context.Context, emoji string) error {
	if u.replier == nil {
		return ErrNoReplier
	}
	return u.replier.React(ctx, u.Identity.SenderID, u.ID, emoji)
}

// MarkRead marks the update's source message as read.
func (u *Update) MarkRead(ctx context.Context) error {
	if u.replier == nil {
		return ErrNoReplier
	}
	return u.replier.MarkRead(ctx, u.ID)
}
