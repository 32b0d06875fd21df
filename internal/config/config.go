// Package config defines the top-level configuration for the inago market
// data service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by INAGO_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Simulator SimulatorConfig `toml:"simulator"`
	Window    WindowConfig    `toml:"window"`
	Feed      FeedConfig      `toml:"feed"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	IdleTimeout  duration `toml:"idle_timeout"`
}

// SimulatorConfig controls the simulated tick generator.
type SimulatorConfig struct {
	GenerationPeriod duration `toml:"generation_period"`
	ResetPeriod      duration `toml:"reset_period"`
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64 `toml:"seed"`
}

// WindowConfig sizes the time-bucketed volume series.
type WindowConfig struct {
	Width    duration `toml:"width"`
	Capacity int      `toml:"capacity"`
	Prefill  int      `toml:"prefill"`
}

// FeedConfig holds the upstream market hub endpoints and credentials.
type FeedConfig struct {
	APIURL         string   `toml:"api_url"`
	MarketHubURL   string   `toml:"market_hub_url"`
	Username       string   `toml:"username"`
	APIKey         string   `toml:"api_key"`
	Instruments    []string `toml:"instruments"`
	Select         string   `toml:"select"`
	MaxAttempts    int      `toml:"max_attempts"`
	AuthTimeout    duration `toml:"auth_timeout"`
	ConnectTimeout duration `toml:"connect_timeout"`
	PingInterval   duration `toml:"ping_interval"`
	BackoffMin     duration `toml:"backoff_min"`
	BackoffMax     duration `toml:"backoff_max"`
	BackoffFactor  float64  `toml:"backoff_factor"`
	BackoffJitter  float64  `toml:"backoff_jitter"`
}

// CatalogConfig selects where the instrument catalog is loaded from.
type CatalogConfig struct {
	// Source is one of builtin, postgres, s3.
	Source string `toml:"source"`
	// Key is the object key when Source is s3.
	Key string `toml:"key"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Channel    string `toml:"channel"`
	Stream     string `toml:"stream"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds the operator alert channels for feed session events.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the service runs with
// when no file overrides them.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{15 * time.Second},
			IdleTimeout:  duration{60 * time.Second},
		},
		Simulator: SimulatorConfig{
			GenerationPeriod: duration{time.Second},
			ResetPeriod:      duration{10 * time.Second},
		},
		Window: WindowConfig{
			Width:    duration{5 * time.Second},
			Capacity: 30,
			Prefill:  12,
		},
		Feed: FeedConfig{
			APIURL:         "https://api.topstepx.com",
			MarketHubURL:   "wss://rtc.topstepx.com/hubs/market",
			MaxAttempts:    10,
			AuthTimeout:    duration{15 * time.Second},
			ConnectTimeout: duration{15 * time.Second},
			PingInterval:   duration{15 * time.Second},
			BackoffMin:     duration{time.Second},
			BackoffMax:     duration{5 * time.Second},
			BackoffFactor:  2,
			BackoffJitter:  0.2,
		},
		Catalog: CatalogConfig{
			Source: "builtin",
			Key:    "catalog/instruments.json",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Channel:    "market_data",
			Stream:     "ticks",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "inago",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "inago",
			ForcePathStyle: true,
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"simulate": true,
	"feed":     true,
	"full":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCatalogSources = map[string]bool{
	"builtin":  true,
	"postgres": true,
	"s3":       true,
}

// RunsSimulator reports whether the mode drives the simulated generator.
func (c *Config) RunsSimulator() bool {
	m := strings.ToLower(c.Mode)
	return m == "simulate" || m == "full"
}

// RunsFeed reports whether the mode connects to the upstream hub.
func (c *Config) RunsFeed() bool {
	m := strings.ToLower(c.Mode)
	return m == "feed" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// single error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulate, feed, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Simulator
	if c.Simulator.GenerationPeriod.Duration <= 0 {
		errs = append(errs, "simulator: generation_period must be > 0")
	}
	if c.Simulator.ResetPeriod.Duration <= 0 {
		errs = append(errs, "simulator: reset_period must be > 0")
	}

	// Window
	if c.Window.Width.Duration <= 0 {
		errs = append(errs, "window: width must be > 0")
	}
	if c.Window.Capacity < 1 {
		errs = append(errs, "window: capacity must be >= 1")
	}
	if c.Window.Prefill < 0 || c.Window.Prefill > c.Window.Capacity {
		errs = append(errs, fmt.Sprintf("window: prefill must be 0-%d, got %d", c.Window.Capacity, c.Window.Prefill))
	}

	// Feed credentials are only needed when the adapter runs.
	if c.RunsFeed() {
		if c.Feed.APIURL == "" {
			errs = append(errs, "feed: api_url must not be empty")
		}
		if c.Feed.MarketHubURL == "" {
			errs = append(errs, "feed: market_hub_url must not be empty")
		}
		if c.Feed.Username == "" || c.Feed.APIKey == "" {
			errs = append(errs, "feed: username and api_key are required for mode "+c.Mode)
		}
	}
	if c.Feed.MaxAttempts < 1 {
		errs = append(errs, "feed: max_attempts must be >= 1")
	}
	if c.Feed.PingInterval.Duration <= 0 {
		errs = append(errs, "feed: ping_interval must be positive")
	}
	if c.Feed.BackoffJitter < 0 || c.Feed.BackoffJitter > 1 {
		errs = append(errs, "feed: backoff_jitter must be within 0-1")
	}

	// Catalog
	source := strings.ToLower(c.Catalog.Source)
	if !validCatalogSources[source] {
		errs = append(errs, fmt.Sprintf("catalog: unknown source %q (valid: builtin, postgres, s3)", c.Catalog.Source))
	}
	if source == "postgres" && !c.Postgres.Enabled {
		errs = append(errs, "catalog: source postgres requires postgres.enabled")
	}
	if source == "s3" {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			errs = append(errs, "s3: bucket and region are required for catalog source s3")
		}
		if c.Catalog.Key == "" {
			errs = append(errs, "catalog: key must not be empty for source s3")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
