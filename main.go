package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"torn-market-tracker/internal/alerts"
	"torn-market-tracker/internal/api"
	"torn-market-tracker/internal/config"
	"torn-market-tracker/internal/crypto"
	"torn-market-tracker/internal/database"
	"torn-market-tracker/internal/retention"
	"torn-market-tracker/internal/scheduler"
	"torn-market-tracker/internal/services/catalog"
	"torn-market-tracker/internal/services/feed"
	"torn-market-tracker/internal/services/keys"
	"torn-market-tracker/internal/services/notify"
	"torn-market-tracker/internal/services/pricesource"
	"torn-market-tracker/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogger(cfg)

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
		st.UseCipher(enc)
		dec = enc
	} else {
		log.Warn().Msg("ENCRYPTION_KEY not set, only TORN_API_KEYS are used and keys cannot be added through the API")
	}

	pool := keys.NewPool(cfg.TornAPIKeys, st, dec)
	if err := pool.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to load API keys from database")
	}
	if pool.Count() == 0 {
		log.Warn().Msg("No Torn API keys configured, collection will fail until one is added")
	}
	go pool.StartAutoRefresh(ctx, time.Minute)

	notifier := newNotifier(cfg)
	evaluator := alerts.NewEvaluator(st, notifier, cfg.Alerts.ThrottleWindow)

	fetcher := pricesource.NewClient(pool, pricesource.Options{
		TornBaseURL:   cfg.TornBaseURL,
		BazaarBaseURL: cfg.BazaarURL,
		Timeout:       cfg.FetchTimeout,
		TopK:          cfg.Collector.TopK,
		SnapshotSize:  cfg.Collector.SnapshotSize,
	})
	runner := scheduler.NewRunner(fetcher, st, cfg.Collector)
	sched := scheduler.New(cfg.Collector, st, pool, newCounterFactory(cfg), runner, evaluator)
	go sched.Start(ctx)

	go feed.New(feed.Options{
		URL:       cfg.TornWSURL,
		Token:     cfg.TornWSToken,
		Reconnect: 5 * time.Second,
		Resync:    5 * time.Minute,
	}, st, evaluator).Start(ctx)

	go catalog.NewSyncer(cfg.TornBaseURL, cfg.FetchTimeout, pool, st).Start(ctx, cfg.CatalogSyncInterval)
	go retention.New(st, cfg.Retention).Start(ctx, cfg.RetentionInterval)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, st, sched, pool)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}

func newNotifier(cfg *config.Config) alerts.Notifier {
	if cfg.DiscordWebhookURL == "" {
		log.Info().Msg("Discord webhook not configured, alerts are only logged")
		return notify.Log{}
	}
	d, err := notify.NewDiscord(cfg.DiscordWebhookURL)
	if err != nil {
		log.Error().Err(err).Msg("Invalid Discord webhook, alerts are only logged")
		return notify.Log{}
	}
	return d
}

// newCounterFactory shares the request budget through Redis when REDIS_URL is
// set so several collectors can run against the same keys.
func newCounterFactory(cfg *config.Config) func() scheduler.Counter {
	local := func() scheduler.Counter { return &scheduler.LocalCounter{} }
	if cfg.RedisURL == "" {
		return local
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error().Err(err).Msg("Invalid REDIS_URL, using a local request budget")
		return local
	}
	client := redis.NewClient(opts)
	counter := scheduler.NewRedisCounter(client, "torn:budget", time.Minute)
	log.Info().Str("addr", opts.Addr).Msg("Request budget shared through Redis")
	return func() scheduler.Counter { return counter }
}
