package app

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/converge/internal/config"
	"github.com/dokzlo13/converge/internal/db"
	"github.com/dokzlo13/converge/internal/ledger"
	"github.com/dokzlo13/converge/internal/lifecycle"
	"github.com/dokzlo13/converge/internal/lua"
	"github.com/dokzlo13/converge/internal/reconcile"
	"github.com/dokzlo13/converge/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger // nil when the ledger is disabled
	Store  *storage.Store

	Handler    reconcile.Handler
	Dispatcher *reconcile.Dispatcher

	closeHandler func()
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Store = storage.NewStore(database.DB)

	if cfg.Ledger.Enabled {
		s.Ledger = ledger.New(database.DB)
		removed, err := s.Ledger.DeleteOlderThan(cfg.Ledger.Retention())
		if err != nil {
			log.Warn().Err(err).Msg("Ledger cleanup failed")
		} else if removed > 0 {
			log.Info().Int64("removed", removed).Msg("Ledger cleanup completed")
		}
	}

	if err := s.initHandler(); err != nil {
		s.DB.Close()
		return nil, err
	}

	policy, err := reconcile.ParsePolicy(cfg.Reconciler.Policy)
	if err != nil {
		s.Close()
		return nil, err
	}

	var recorder reconcile.Tracker
	if s.Ledger != nil {
		recorder = lifecycle.NewRecorder(s.Ledger)
	}

	s.Dispatcher = reconcile.NewDispatcher(s.Handler, reconcile.Options{
		Policy:       policy,
		Workers:      cfg.Reconciler.Workers,
		RateLimitRPS: cfg.Reconciler.RateLimitRPS,
		Tracker:      lifecycle.Multi(lifecycle.NewLogger(log.Logger), recorder),
	})

	log.Debug().
		Str("handler", cfg.Handler.Type).
		Str("policy", string(policy)).
		Int("workers", cfg.Reconciler.Workers).
		Bool("ledger", s.Ledger != nil).
		Msg("Services initialized")

	return s, nil
}

func (s *Services) initHandler() error {
	switch s.cfg.Handler.Type {
	case config.HandlerStore:
		s.Handler = storage.NewHandler(s.Store, s.cfg.Handler.Kind)
	case config.HandlerLua:
		h, err := lua.Load(s.cfg.Handler.Script, lua.WithStore(s.Store, s.cfg.Handler.Kind))
		if err != nil {
			return err
		}
		s.Handler = h
		s.closeHandler = h.Close
	default:
		return fmt.Errorf("unknown handler type %q", s.cfg.Handler.Type)
	}
	return nil
}

// ClearState removes every stored record of the configured kind.
func (s *Services) ClearState() error {
	return s.Store.Clear(s.cfg.Handler.Kind)
}

// Close releases the handler and the database.
func (s *Services) Close() error {
	if s.closeHandler != nil {
		s.closeHandler()
	}
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
