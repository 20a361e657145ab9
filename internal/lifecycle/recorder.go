package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/converge/internal/ledger"
	"github.com/dokzlo13/converge/internal/reconcile"
)

// Appender is the part of the ledger the Recorder writes to.
type Appender interface {
	Append(e ledger.Entry) error
}

// Recorder writes a started entry when a scope opens and a completed or
// failed entry when it ends. Both entries share a generated scope ID.
// Ledger write errors are logged and never affect reconciliation.
type Recorder struct {
	ledger Appender
}

// NewRecorder creates a tracker backed by the ledger.
func NewRecorder(l Appender) *Recorder {
	return &Recorder{ledger: l}
}

// Begin records the start of a transition.
func (r *Recorder) Begin(_ context.Context, t reconcile.Transition, name string) reconcile.Scope {
	scopeID := uuid.NewString()
	start := time.Now()

	r.append(ledger.Entry{
		EventType:  ledger.EventTransitionStarted,
		Timestamp:  start,
		ScopeID:    scopeID,
		Name:       name,
		Transition: t.String(),
	})

	return reconcile.ScopeFunc(func(err error) {
		e := ledger.Entry{
			EventType:  ledger.EventTransitionCompleted,
			ScopeID:    scopeID,
			Name:       name,
			Transition: t.String(),
			Duration:   time.Since(start),
		}
		if err != nil {
			e.EventType = ledger.EventTransitionFailed
			e.Error = err.Error()
		}
		r.append(e)
	})
}

func (r *Recorder) append(e ledger.Entry) {
	if err := r.ledger.Append(e); err != nil {
		log.Warn().Err(err).
			Str("name", e.Name).
			Str("event_type", string(e.EventType)).
			Msg("Failed to record lifecycle event")
	}
}
