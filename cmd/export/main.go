// Command export writes the price history of one item to an xlsx workbook
// or a PNG chart.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"torn-market-tracker/internal/candles"
	"torn-market-tracker/internal/config"
	"torn-market-tracker/internal/database"
	"torn-market-tracker/internal/report"
	"torn-market-tracker/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	dbURL    = flag.String("db", "", "database DSN (defaults to DATABASE_URL)")
	itemID   = flag.Int64("item", 0, "Torn item id")
	days     = flag.Int("days", 7, "how many days of history to export")
	interval = flag.String("interval", "1h", "candle interval: "+strings.Join(candles.Intervals(), ", "))
	out      = flag.String("out", "", "output file; .png writes a chart, anything else a workbook")
)

func main() {
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *itemID <= 0 || *days <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	st := store.New(db)

	ctx := context.Background()
	item, err := st.GetItem(ctx, *itemID)
	if err != nil {
		log.Fatal().Err(err).Int64("item", *itemID).Msg("Item not found")
	}
	to := time.Now().UTC()
	rows, err := st.History(ctx, item.ID, to.AddDate(0, 0, -*days), to)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load history")
	}

	name, size, _ := candles.ParseInterval(*interval)
	hist := report.History{ItemID: item.ID, ItemName: item.Name, Interval: name}
	if name == candles.Raw {
		hist.Rows = rows
	} else {
		hist.Candles = candles.Aggregate(rows, size)
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("item-%d-%s.xlsx", item.ID, name)
	}
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".png") {
		data, err = report.ChartPNG(hist)
	} else {
		var buf bytes.Buffer
		err = report.WriteWorkbook(&buf, hist)
		data = buf.Bytes()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to render export")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write export")
	}
	log.Info().Str("file", path).Int("rows", len(rows)).Msg("Export written")
}
