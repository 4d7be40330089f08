package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"eventsync/internal/config"
	"eventsync/internal/driver"
	"eventsync/internal/source"
	"eventsync/internal/store"
	"eventsync/internal/sync"
	"eventsync/internal/syncerr"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	once := flag.Bool("once", false, "Run every job a single time and exit")
	resource := flag.String("resource", "", "Sync one resource (attendees or events) and print the result")
	resourceID := flag.String("id", "", "Resource id or URL for -resource")
	continuation := flag.String("continuation", "", "Continuation token to resume -resource from")
	mode := flag.String("mode", "", "Override sync.mode (full_drain or single_page)")
	dump := flag.Bool("dump", false, "With -once and the store enabled, print each job's stored rows as JSON")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *mode != "" {
		cfg.Sync.Mode = *mode
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Invalid -mode")
		}
	}

	// Setup logging
	setupLogging(cfg.Logging)

	// Create Source API client
	client, err := newSourceClient(cfg.Source)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Source API client")
	}

	opts := driver.Options{
		Mode:        driver.Mode(cfg.Sync.Mode),
		MaxAttempts: cfg.Sync.MaxAttempts,
		Observer:    driver.NewLogObserver(log.Logger),
	}
	if opts.Mode == driver.FullDrain {
		opts.MaxPages = cfg.Sync.MaxPagesPerCycle
	}
	d := driver.New(client, opts)

	// Handle shutdown gracefully
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	if *resource != "" {
		os.Exit(syncOne(ctx, d, *resource, *resourceID, *continuation))
	}

	log.Info().Str("mode", cfg.Sync.Mode).Msg("Starting eventsync")

	manager := sync.NewManager(d, cfg)

	// Open row store if enabled
	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open row store")
		}
		defer st.Close()
		manager.SetSink(st)
		log.Info().Str("path", cfg.Store.Path).Msg("Row store opened")
	}

	for _, job := range cfg.Jobs {
		if err := manager.AddJob(job); err != nil {
			log.Fatal().Err(err).Str("job", job.Key()).Msg("Invalid job")
		}
	}

	if *once {
		if err := manager.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Sync finished with errors")
			cancel()
			os.Exit(1)
		}
		logStoreStats(ctx, st)
		if *dump {
			if st == nil {
				log.Warn().Msg("-dump needs store.enabled")
				return
			}
			if err := dumpRows(ctx, os.Stdout, st, cfg.Jobs); err != nil {
				log.Error().Err(err).Msg("Failed to dump rows")
				os.Exit(1)
			}
		}
		return
	}

	// Start sync loop
	if err := manager.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Sync manager failed")
	}

	log.Info().Msg("Daemon stopped")
}

func logStoreStats(ctx context.Context, st *store.Store) {
	if st == nil {
		return
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read store stats")
		return
	}
	event := log.Info().Int64("rows", stats.Rows)
	if stats.LastSynced != nil {
		event = event.Time("last_synced", *stats.LastSynced)
	}
	event.Msg("Row store totals")
}

// dumpRows prints the stored rows of every job, keyed by job
func dumpRows(ctx context.Context, w io.Writer, st *store.Store, jobs []config.JobConfig) error {
	out := make(map[string][]store.StoredRow, len(jobs))
	for _, job := range jobs {
		id, err := driver.ExtractID(job.ID)
		if err != nil {
			return err
		}
		rows, err := st.List(ctx, job.Resource, id)
		if err != nil {
			return err
		}
		out[job.Key()] = rows
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// syncOne runs a single Sync call and prints the result as JSON
func syncOne(ctx context.Context, d *driver.Driver, resource, id, token string) int {
	res, err := driver.Lookup(resource)
	if err != nil {
		log.Error().Err(err).Msg("Unknown resource")
		return 2
	}

	result, err := d.Sync(ctx, res, id, token)
	if err != nil {
		log.Error().Err(err).Str("kind", string(syncerr.KindOf(err))).Msg("Sync failed")
		if syncerr.IsKind(err, syncerr.KindInvalidArgument) {
			return 2
		}
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Error().Err(err).Msg("Failed to write result")
		return 1
	}
	return 0
}

func newSourceClient(cfg config.SourceConfig) (*source.Client, error) {
	opts := source.Options{
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}
	if cfg.TokenPath != "" {
		token, err := source.TokenFromFile(cfg.TokenPath)
		if err != nil {
			return nil, err
		}
		opts.TokenSource = oauth2.StaticTokenSource(token)
	}
	if opts.Token == "" && opts.TokenSource == nil {
		log.Warn().Msg("No Source API credential configured, requests will be anonymous")
	}
	return source.NewClient(opts), nil
}

func setupLogging(cfg config.LoggingConfig) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output; stdout carries -resource results, so logs go to stderr
	var output = os.Stderr
	if cfg.Path != "" {
		file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open log file, using stderr")
		} else {
			output = file
		}
	}

	// Configure format
	if cfg.Format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}
}
