package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/inago/internal/blob/s3"
	"github.com/alanyoungcy/inago/internal/cache/redis"
	"github.com/alanyoungcy/inago/internal/config"
	"github.com/alanyoungcy/inago/internal/domain"
	"github.com/alanyoungcy/inago/internal/feed"
	"github.com/alanyoungcy/inago/internal/market"
	"github.com/alanyoungcy/inago/internal/notify"
	"github.com/alanyoungcy/inago/internal/server/handler"
	"github.com/alanyoungcy/inago/internal/store/postgres"
)

// Dependencies bundles what the modes need from the backing stores. Every
// store is optional; the fallbacks keep the service usable without any.
type Dependencies struct {
	Catalog    market.CatalogSource
	TickSink   domain.TickSink   // nil without Redis
	QuoteCache domain.QuoteCache // in-process QuoteBook without Redis
	AuditStore domain.AuditStore // nil without PostgreSQL
	Notifier   *notify.Notifier

	// Checks are the dependency checks served by /api/health.
	Checks map[string]handler.Check
}

// Wire constructs the configured backing stores and returns them together
// with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Catalog:    market.NewStaticCatalog(nil),
		QuoteCache: feed.NewQuoteBook(),
		Checks:     make(map[string]handler.Check),
	}
	source := strings.ToLower(cfg.Catalog.Source)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
		if source == "postgres" {
			deps.Catalog = postgres.NewCatalogStore(pool, market.DefaultCatalog())
		}
		logger.Info("wire: postgres connected", slog.String("host", cfg.Postgres.Host))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: 5 * time.Second,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.TickSink = redis.NewTickPublisher(redisClient, cfg.Redis.Channel, cfg.Redis.Stream)
		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.Checks["redis"] = redisClient.Ping
		logger.Info("wire: redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- S3 (catalog object only) ---
	if source == "s3" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Catalog = s3blob.NewCatalogReader(s3blob.NewReader(s3Client), cfg.Catalog.Key)
		deps.Checks["s3"] = s3Client.Health
		logger.Info("wire: s3 catalog configured",
			slog.String("bucket", s3Client.Bucket()),
			slog.String("key", cfg.Catalog.Key),
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
