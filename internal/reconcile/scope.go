package reconcile

import "context"

// Tracker opens lifecycle scopes around handler operations.
type Tracker interface {
	// Begin opens a scope for a transition on the named resource.
	Begin(ctx context.Context, t Transition, name string) Scope
}

// Scope is an open lifecycle scope. End is called exactly once, with the
// operation's error (nil on success).
type Scope interface {
	End(err error)
}

// TrackerFunc adapts a function to the Tracker interface.
type TrackerFunc func(ctx context.Context, t Transition, name string) Scope

// Begin calls f.
func (f TrackerFunc) Begin(ctx context.Context, t Transition, name string) Scope {
	return f(ctx, t, name)
}

// ScopeFunc adapts a function to the Scope interface.
type ScopeFunc func(err error)

// End calls f.
func (f ScopeFunc) End(err error) {
	f(err)
}

// NopTracker opens scopes that do nothing.
var NopTracker Tracker = TrackerFunc(func(context.Context, Transition, string) Scope {
	return ScopeFunc(func(error) {})
})
