// Package filter provides the predicate combinators used to match updates
// against handlers and listeners.
//
// A filter must be pure: evaluating it twice for the same update returns the
// same result. The dispatcher relies on this because it may evaluate a filter
// once while offering an update to a listener and again while iterating
// handlers.
package filter

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"waveline/pkg/update"
)

// Filter reports whether an update matches. Filters needing the outbound
// client reach it through the capability bound to the update.
type Filter func(ctx context.Context, u *update.Update) bool

// All matches every update. Use it to register an unconditional handler.
func All(context.Context, *update.Update) bool { return true }

// And matches when every filter matches. And() is vacuously true, which is
// how "no filter" is expressed.
func And(fs ...Filter) Filter {
	return func(ctx context.Context, u *update.Update) bool {
		for _, f := range fs {
			if !f(ctx, u) {
				return false
			}
		}
		return true
	}
}

// Or matches when any filter matches. Or() matches nothing.
func Or(fs ...Filter) Filter {
	return func(ctx context.Context, u *update.Update) bool {
		for _, f := range fs {
			if f(ctx, u) {
				return true
			}
		}
		return false
	}
}

// Not inverts a filter.
func Not(f Filter) Filter {
	return func(ctx context.Context, u *update.Update) bool {
		return !f(ctx, u)
	}
}

// Kind matches updates of any of the given kinds.
func Kind(kinds ...update.Kind) Filter {
	return func(_ context.Context, u *update.Update) bool {
		for _, k := range kinds {
			if u.Kind == k {
				return true
			}
		}
		return false
	}
}

// HasText matches message updates with a non-empty text body.
func HasText(_ context.Context, u *update.Update) bool {
	return u.Kind == update.KindMessage && u.Text != ""
}

// TextEquals matches when the message text equals any of the options.
// Multiple options behave exactly like an Or over single-option filters.
func TextEquals(options ...string) Filter {
	return func(_ context.Context, u *update.Update) bool {
		for _, option := range options {
			if u.Text == option {
				return true
			}
		}
		return false
	}
}

// TextEqualsFold is TextEquals with case-insensitive comparison.
func TextEqualsFold(options ...string) Filter {
	return func(_ context.Context, u *update.Update) bool {
		for _, option := range options {
			if strings.EqualFold(u.Text, option) {
				return true
			}
		}
		return false
	}
}

// TextMatches matches when any pattern matches the message text.
func TextMatches(patterns ...*regexp.Regexp) Filter {
	return func(_ context.Context, u *update.Update) bool {
		for _, pattern := range patterns {
			if pattern.MatchString(u.Text) {
				return true
			}
		}
		return false
	}
}

// TextDigits matches messages whose text is one or more digits.
func TextDigits(_ context.Context, u *update.Update) bool {
	if u.Text == "" {
		return false
	}
	for _, r := range u.Text {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Command matches messages of the form "/name" or "!name", with any of the
// given names, optionally followed by arguments.
func Command(names ...string) Filter {
	return func(_ context.Context, u *update.Update) bool {
		text := u.Text
		if text == "" || (text[0] != '/' && text[0] != '!') {
			return false
		}
		word, _, _ := strings.Cut(text[1:], " ")
		for _, name := range names {
			if strings.EqualFold(word, name) {
				return true
			}
		}
		return false
	}
}

// ButtonID matches button clicks with any of the given ids.
func ButtonID(ids ...string) Filter {
	return func(_ context.Context, u *update.Update) bool {
		for _, id := range ids {
			if u.ButtonID == id {
				return true
			}
		}
		return false
	}
}

// SelectionID matches list selections with any of the given ids.
func SelectionID(ids ...string) Filter {
	return func(_ context.Context, u *update.Update) bool {
		for _, id := range ids {
			if u.SelectionID == id {
				return true
			}
		}
		return false
	}
}

// From matches updates sent by any of the given sender ids.
func From(senderIDs ...string) Filter {
	return func(_ context.Context, u *update.Update) bool {
		for _, id := range senderIDs {
			if u.Identity.SenderID == id {
				return true
			}
		}
		return false
	}
}

// StatusIs matches status-change updates with any of the given statuses.
func StatusIs(statuses ...string) Filter {
	return func(_ context.Context, u *update.Update) bool {
		for _, status := range statuses {
			if u.Status == status {
				return true
			}
		}
		return false
	}
}

// Field matches when the raw change payload holds any of the given string
// values at the gjson path. With no values it matches on field presence.
func Field(path string, values ...string) Filter {
	return func(_ context.Context, u *update.Update) bool {
		result := u.Get(path)
		if !result.Exists() {
			return false
		}
		if len(values) == 0 {
			return true
		}
		for _, value := range values {
			if result.String() == value {
				return true
			}
		}
		return false
	}
}
