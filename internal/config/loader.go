package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies INAGO_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known INAGO_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// are expected to arrive this way rather than through the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "INAGO_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "INAGO_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "INAGO_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "INAGO_SERVER_API_KEY")

	// ── Simulator ──
	setDuration(&cfg.Simulator.GenerationPeriod, "INAGO_SIMULATOR_GENERATION_PERIOD")
	setDuration(&cfg.Simulator.ResetPeriod, "INAGO_SIMULATOR_RESET_PERIOD")
	setInt64(&cfg.Simulator.Seed, "INAGO_SIMULATOR_SEED")

	// ── Window ──
	setDuration(&cfg.Window.Width, "INAGO_WINDOW_WIDTH")
	setInt(&cfg.Window.Capacity, "INAGO_WINDOW_CAPACITY")
	setInt(&cfg.Window.Prefill, "INAGO_WINDOW_PREFILL")

	// ── Feed ──
	setStr(&cfg.Feed.APIURL, "INAGO_FEED_API_URL")
	setStr(&cfg.Feed.MarketHubURL, "INAGO_FEED_MARKET_HUB_URL")
	setStr(&cfg.Feed.Username, "INAGO_FEED_USERNAME")
	setStr(&cfg.Feed.APIKey, "INAGO_FEED_API_KEY")
	setStringSlice(&cfg.Feed.Instruments, "INAGO_FEED_INSTRUMENTS")
	setStr(&cfg.Feed.Select, "INAGO_FEED_SELECT")
	setInt(&cfg.Feed.MaxAttempts, "INAGO_FEED_MAX_ATTEMPTS")
	setDuration(&cfg.Feed.ConnectTimeout, "INAGO_FEED_CONNECT_TIMEOUT")
	setDuration(&cfg.Feed.PingInterval, "INAGO_FEED_PING_INTERVAL")
	setFloat64(&cfg.Feed.BackoffJitter, "INAGO_FEED_BACKOFF_JITTER")

	// ── Catalog ──
	setStr(&cfg.Catalog.Source, "INAGO_CATALOG_SOURCE")
	setStr(&cfg.Catalog.Key, "INAGO_CATALOG_KEY")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "INAGO_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "INAGO_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "INAGO_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "INAGO_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "INAGO_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "INAGO_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "INAGO_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "INAGO_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "INAGO_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "INAGO_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "INAGO_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "INAGO_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "INAGO_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "INAGO_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "INAGO_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "INAGO_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "INAGO_S3_REGION")
	setStr(&cfg.S3.Bucket, "INAGO_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "INAGO_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "INAGO_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "INAGO_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "INAGO_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "INAGO_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "INAGO_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "INAGO_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "INAGO_MODE")
	setStr(&cfg.LogLevel, "INAGO_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
