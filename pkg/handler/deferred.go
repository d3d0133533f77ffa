package handler

import (
	"waveline/pkg/filter"
	"waveline/pkg/update"
)

// Deferred collects registrations made before any dispatcher exists, for
// example from package init blocks. Every new dispatcher merges it into its
// own registry at construction, so deferred entries apply to each instance.
var Deferred = NewRegistry()

// RegisterDeferred adds a template registration picked up by dispatchers
// constructed afterwards. The returned handle removes the template for future
// dispatchers only; already-merged copies are unaffected.
func RegisterDeferred(kind update.Kind, f filter.Filter, cb Callback, priority int) Handle {
	return Deferred.Register(kind, f, cb, priority)
}
