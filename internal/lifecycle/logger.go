package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/converge/internal/reconcile"
)

var verbs = map[reconcile.Transition][2]string{
	reconcile.Create: {"Creating", "Created"},
	reconcile.Update: {"Updating", "Updated"},
	reconcile.Delete: {"Deleting", "Deleted"},
}

// Logger reports scopes through zerolog.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a tracker that logs to the given logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Begin logs the start of a transition at debug level.
func (l *Logger) Begin(_ context.Context, t reconcile.Transition, name string) reconcile.Scope {
	v, ok := verbs[t]
	if !ok {
		v = [2]string{t.String(), t.String()}
	}

	l.logger.Debug().
		Str("name", name).
		Str("transition", t.String()).
		Msg(v[0] + " " + name)

	start := time.Now()
	return reconcile.ScopeFunc(func(err error) {
		elapsed := time.Since(start)
		if err != nil {
			l.logger.Error().Err(err).
				Str("name", name).
				Str("transition", t.String()).
				Dur("duration", elapsed).
				Msg(v[0] + " " + name + " failed")
			return
		}
		l.logger.Info().
			Str("name", name).
			Str("transition", t.String()).
			Dur("duration", elapsed).
			Msg(v[1] + " " + name)
	})
}
