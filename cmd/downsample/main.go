// Command downsample compacts old price logs once and exits.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"torn-market-tracker/internal/config"
	"torn-market-tracker/internal/database"
	"torn-market-tracker/internal/retention"
	"torn-market-tracker/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	dbURL     = flag.String("db", "", "database DSN (defaults to DATABASE_URL)")
	rawFor    = flag.Duration("raw", 0, "keep raw rows this long (defaults to RETENTION_RAW)")
	hourlyFor = flag.Duration("hourly", 0, "keep hourly rows this long (defaults to RETENTION_HOURLY)")
	timeout   = flag.Duration("timeout", 30*time.Minute, "abort after this long")
)

func main() {
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}
	if *rawFor > 0 {
		cfg.Retention.RawFor = *rawFor
	}
	if *hourlyFor > 0 {
		cfg.Retention.HourlyFor = *hourlyFor
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := retention.New(store.New(db), cfg.Retention).Run(ctx, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Downsampling failed")
	}
	log.Info().
		Int("items", report.Items).
		Int("rows_before", report.Before).
		Int("rows_after", report.After).
		Dur("elapsed", report.Elapsed).
		Msg("Downsampling finished")
}
