package lifecycle

import (
	"context"

	"github.com/dokzlo13/converge/internal/reconcile"
)

// Multi returns a tracker that opens a scope on every given tracker.
// Scopes are ended in reverse order of opening. Nil trackers are skipped.
func Multi(trackers ...reconcile.Tracker) reconcile.Tracker {
	var active []reconcile.Tracker
	for _, t := range trackers {
		if t != nil {
			active = append(active, t)
		}
	}

	return reconcile.TrackerFunc(func(ctx context.Context, t reconcile.Transition, name string) reconcile.Scope {
		scopes := make([]reconcile.Scope, 0, len(active))
		for _, tr := range active {
			scopes = append(scopes, tr.Begin(ctx, t, name))
		}
		return reconcile.ScopeFunc(func(err error) {
			for i := len(scopes) - 1; i >= 0; i-- {
				scopes[i].End(err)
			}
		})
	})
}
