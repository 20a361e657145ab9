package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/converge/internal/app"
	"github.com/dokzlo13/converge/internal/config"
	"github.com/dokzlo13/converge/internal/manifest"
	"github.com/dokzlo13/converge/internal/reconcile"
)

func main() {
	// Support both -c and --config for config path
	var configPath, manifestPath, history string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	flag.StringVar(&manifestPath, "manifest", "", "Path to resources manifest (overrides config)")
	flag.StringVar(&manifestPath, "m", "", "Path to resources manifest (shorthand)")
	plan := flag.Bool("plan", false, "Print the planned transitions without applying them")
	resetState := flag.Bool("reset-state", false, "Clear stored records of handler.kind (the default lua store bucket) before reconciling")
	flag.StringVar(&history, "history", "", "Print the lifecycle history of a resource and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if manifestPath != "" {
		cfg.Manifest = manifestPath
	}

	// Setup logging
	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Msg("Starting converge")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	os.Exit(run(application, cfg, *plan, *resetState, history))
}

func run(application *app.App, cfg *config.Config, plan, resetState bool, history string) int {
	defer func() {
		if err := application.Close(); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	if history != "" {
		return printHistory(application, history)
	}

	batch, err := manifest.Load(cfg.Manifest)
	if err != nil {
		log.Error().Err(err).Str("manifest", cfg.Manifest).Msg("Failed to load manifest")
		return 1
	}

	// Handle reset state flag
	if resetState {
		log.Info().Msg("Clearing stored records (--reset-state)")
		if err := application.ClearState(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear stored records")
		}
	}

	ctx := app.SignalContext()

	if plan {
		steps, err := application.Plan(ctx, batch)
		printPlan(steps)
		if err != nil {
			log.Error().Err(err).Msg("Plan has unresolved resources")
			return 1
		}
		return 0
	}

	if err := application.Reconcile(ctx, batch); err != nil {
		for _, f := range reconcile.Failures(err) {
			fmt.Fprintf(os.Stderr, "FAILED %s\n", f)
		}
		return 1
	}
	return 0
}

func printPlan(steps []reconcile.Step) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRANSITION")
	for _, step := range steps {
		fmt.Fprintf(w, "%s\t%s\n", step.Name, step.Transition)
	}
	w.Flush()
}

func printHistory(application *app.App, name string) int {
	entries, err := application.History(name, 50)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		return 1
	}
	if entries == nil {
		log.Warn().Msg("Ledger is disabled, no history available")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tTRANSITION\tDURATION\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.RFC3339), e.EventType, e.Transition, e.Duration, e.Error)
	}
	w.Flush()
	return 0
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
