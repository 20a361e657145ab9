package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/converge/internal/config"
	"github.com/dokzlo13/converge/internal/ledger"
	"github.com/dokzlo13/converge/internal/reconcile"
)

// App is the main application container that owns all services.
// It provides dependency injection and enables testable architecture.
type App struct {
	cfg      *config.Config
	services *Services
}

// New creates a new App instance with all services initialized.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Reconcile runs one reconciliation of the batch, bounded by the
// configured timeout when set.
func (a *App) Reconcile(ctx context.Context, batch reconcile.Batch) error {
	if timeout := a.cfg.Reconciler.Timeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := a.services.Dispatcher.Reconcile(ctx, batch)

	event := log.Info()
	if err != nil {
		event = log.Error().Err(err).Int("failed", len(reconcile.Failures(err)))
	}
	event.
		Int("resources", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("Reconciliation finished")

	return err
}

// Plan resolves the batch without changing anything.
func (a *App) Plan(ctx context.Context, batch reconcile.Batch) ([]reconcile.Step, error) {
	return a.services.Dispatcher.Plan(ctx, batch)
}

// History returns the most recent lifecycle entries for a resource.
// It returns nil when the ledger is disabled.
func (a *App) History(name string, limit int) ([]*ledger.Entry, error) {
	if a.services.Ledger == nil {
		return nil, nil
	}
	return a.services.Ledger.ByName(name, limit)
}

// ClearState clears the stored records of the configured kind.
// This is useful for resetting state on startup with --reset-state flag.
func (a *App) ClearState() error {
	if a.services != nil {
		return a.services.ClearState()
	}
	return nil
}

// Close releases all services.
func (a *App) Close() error {
	if a.services != nil {
		return a.services.Close()
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
