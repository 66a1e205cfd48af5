// Command collect runs collection ticks from the command line, without the
// HTTP API or the push feed. With -once it runs a single tick and prints its
// report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"torn-market-tracker/internal/alerts"
	"torn-market-tracker/internal/config"
	"torn-market-tracker/internal/crypto"
	"torn-market-tracker/internal/database"
	"torn-market-tracker/internal/scheduler"
	"torn-market-tracker/internal/services/keys"
	"torn-market-tracker/internal/services/notify"
	"torn-market-tracker/internal/services/pricesource"
	"torn-market-tracker/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	dbURL    = flag.String("db", "", "database DSN (defaults to DATABASE_URL)")
	interval = flag.Duration("interval", 0, "tick interval (defaults to COLLECT_INTERVAL)")
	once     = flag.Bool("once", false, "run a single tick and exit")
	quiet    = flag.Bool("quiet", false, "only log warnings and errors")
)

func main() {
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *quiet {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}
	if *interval > 0 {
		cfg.Collector.Interval = *interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	st := store.New(db)

	var dec keys.Decrypter
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid ENCRYPTION_KEY")
		}
		dec = enc
	}
	pool := keys.NewPool(cfg.TornAPIKeys, st, dec)
	if err := pool.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to load API keys from database")
	}

	var notifier alerts.Notifier = notify.Log{}
	if cfg.DiscordWebhookURL != "" {
		if d, err := notify.NewDiscord(cfg.DiscordWebhookURL); err == nil {
			notifier = d
		} else {
			log.Warn().Err(err).Msg("Invalid Discord webhook, alerts are only logged")
		}
	}

	fetcher := pricesource.NewClient(pool, pricesource.Options{
		TornBaseURL:   cfg.TornBaseURL,
		BazaarBaseURL: cfg.BazaarURL,
		Timeout:       cfg.FetchTimeout,
		TopK:          cfg.Collector.TopK,
		SnapshotSize:  cfg.Collector.SnapshotSize,
	})
	sched := scheduler.New(
		cfg.Collector, st, pool,
		func() scheduler.Counter { return &scheduler.LocalCounter{} },
		scheduler.NewRunner(fetcher, st, cfg.Collector),
		alerts.NewEvaluator(st, notifier, cfg.Alerts.ThrottleWindow),
	)

	if !*once {
		go pool.StartAutoRefresh(ctx, time.Minute)
		sched.Start(ctx)
		return
	}

	report, err := sched.Tick(ctx)
	pool.Flush(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Tick failed")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatal().Err(err).Msg("Failed to write report")
	}
}
