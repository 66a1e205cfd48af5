package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidBackoff is returned when the backoff thresholds or windows are not
// strictly increasing.
var ErrInvalidBackoff = errors.New("invalid backoff policy")

type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	Environment string
	LogLevel    string

	// Torn API credentials from the environment; merged with active rows of api_keys
	TornAPIKeys  []string
	TornBaseURL  string
	BazaarURL    string
	FetchTimeout time.Duration

	// Push feed
	TornWSURL   string
	TornWSToken string

	DiscordWebhookURL string

	// EncryptionKey is the 64 hex character AES-256 key sealing API keys
	// stored in the database. Without it only TORN_API_KEYS are used.
	EncryptionKey string

	Collector CollectorConfig
	Alerts    AlertConfig

	CatalogSyncInterval time.Duration
	RetentionInterval   time.Duration
	Retention           RetentionConfig
}

// CollectorConfig drives the price-collection scheduler.
type CollectorConfig struct {
	Interval           time.Duration
	PerCredentialLimit int
	BatchSize          int
	MaxConcurrent      int
	DispatchJitter     time.Duration
	TopK               int
	SnapshotSize       int
	TrendWindow        time.Duration

	LowThreshold  int
	HighThreshold int
	LowWindow     time.Duration
	HighWindow    time.Duration
}

type AlertConfig struct {
	ThrottleWindow time.Duration
}

// RetentionConfig: raw rows younger than RawFor are kept as collected, rows
// younger than HourlyFor are collapsed to hourly rows, older ones to daily rows.
type RetentionConfig struct {
	RawFor    time.Duration
	HourlyFor time.Duration
}

func Load() (*Config, error) {
	// Env vars may be set directly (docker), so a missing .env is fine.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", "root:root@tcp(127.0.0.1:3306)/torn_market?charset=utf8mb4&parseTime=True&loc=UTC"),
		RedisURL:    getEnv("REDIS_URL", ""),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		TornAPIKeys:  splitList(os.Getenv("TORN_API_KEYS")),
		TornBaseURL:  getEnv("TORN_API_URL", "https://api.torn.com"),
		BazaarURL:    getEnv("BAZAAR_API_URL", "https://weav3r.dev"),
		FetchTimeout: getDurationEnv("FETCH_TIMEOUT", 10*time.Second),

		TornWSURL:   getEnv("TORN_WS_URL", "wss://ws-centrifugo.torn.com/connection/websocket"),
		TornWSToken: getEnv("TORN_WS_TOKEN", ""),

		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),

		Collector: CollectorConfig{
			Interval:           getDurationEnv("COLLECT_INTERVAL", time.Minute),
			PerCredentialLimit: getIntEnv("API_RATE_LIMIT", 100),
			BatchSize:          getIntEnv("COLLECT_BATCH_SIZE", 50),
			MaxConcurrent:      getIntEnv("COLLECT_MAX_CONCURRENT", 5),
			DispatchJitter:     getDurationEnv("COLLECT_DISPATCH_JITTER", 100*time.Millisecond),
			TopK:               getIntEnv("COLLECT_TOP_K", 3),
			SnapshotSize:       getIntEnv("COLLECT_SNAPSHOT_SIZE", 5),
			TrendWindow:        getDurationEnv("TREND_WINDOW", 24*time.Hour),

			LowThreshold:  getIntEnv("BACKOFF_LOW_THRESHOLD", 3),
			HighThreshold: getIntEnv("BACKOFF_HIGH_THRESHOLD", 10),
			LowWindow:     getDurationEnv("BACKOFF_LOW_WINDOW", 15*time.Minute),
			HighWindow:    getDurationEnv("BACKOFF_HIGH_WINDOW", time.Hour),
		},
		Alerts: AlertConfig{
			ThrottleWindow: getDurationEnv("ALERT_THROTTLE", 5*time.Minute),
		},

		CatalogSyncInterval: getDurationEnv("CATALOG_SYNC_INTERVAL", 24*time.Hour),
		RetentionInterval:   getDurationEnv("RETENTION_INTERVAL", 24*time.Hour),
		Retention: RetentionConfig{
			RawFor:    getDurationEnv("RETENTION_RAW", 7*24*time.Hour),
			HourlyFor: getDurationEnv("RETENTION_HOURLY", 30*24*time.Hour),
		},
	}

	if err := cfg.Collector.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that low < high holds for both thresholds and windows.
func (c CollectorConfig) Validate() error {
	if c.LowThreshold <= 0 || c.HighThreshold <= c.LowThreshold {
		return fmt.Errorf("%w: thresholds %d/%d", ErrInvalidBackoff, c.LowThreshold, c.HighThreshold)
	}
	if c.LowWindow <= 0 || c.HighWindow <= c.LowWindow {
		return fmt.Errorf("%w: windows %s/%s", ErrInvalidBackoff, c.LowWindow, c.HighWindow)
	}
	if c.BatchSize <= 0 || c.MaxConcurrent <= 0 {
		return fmt.Errorf("batch size and concurrency must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs with ENVIRONMENT=production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
