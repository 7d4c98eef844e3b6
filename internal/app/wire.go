package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alimansour/coinwatch/internal/blob/s3"
	"github.com/alimansour/coinwatch/internal/cache/redis"
	"github.com/alimansour/coinwatch/internal/config"
	"github.com/alimansour/coinwatch/internal/domain"
	"github.com/alimansour/coinwatch/internal/ledger"
	"github.com/alimansour/coinwatch/internal/marketdata"
	"github.com/alimansour/coinwatch/internal/notify"
	"github.com/alimansour/coinwatch/internal/platform/okx"
	"github.com/alimansour/coinwatch/internal/scheduler"
	"github.com/alimansour/coinwatch/internal/service"
	"github.com/alimansour/coinwatch/internal/store/postgres"
	"github.com/alimansour/coinwatch/internal/stream"
	"github.com/alimansour/coinwatch/internal/vault"
)

// Dependencies bundles everything the application lifecycle needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Credentials domain.CredentialStore
	Positions   domain.PositionStore
	Trades      domain.TradeStore
	Baselines   domain.BaselineStore
	History     domain.HistoryStore
	Alerts      domain.AlertStore
	Movements   domain.MovementStore

	// Caches
	Quotes domain.QuoteCache
	Locks  domain.LockManager

	// Venue surfaces
	Venue   *okx.Client
	Hub     *marketdata.Hub
	Streams *stream.Manager
	Vault   *vault.Vault

	// Core
	Engine    *ledger.Engine
	Scheduler *scheduler.Scheduler

	// Services
	Portfolio *service.PortfolioService
	Tracker   *service.TrackerService
	TradeSvc  *service.TradeService
	Patterns  *service.PatternService

	// Optional
	Backups  *s3blob.BackupArchiver
	Notifier *notify.Notifier
}

// Wire constructs every concrete dependency from the configuration and
// returns a cleanup function to release them on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.Credentials = postgres.NewCredentialStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Baselines = postgres.NewBaselineStore(pool)
	deps.History = postgres.NewHistoryStore(pool)
	deps.Alerts = postgres.NewAlertStore(pool)
	deps.Movements = postgres.NewMovementStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Quotes = redis.NewQuoteCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Venue ---
	deps.Venue = okx.NewClient(cfg.Venue.RestURL, logger)

	deps.Streams = stream.NewManager(stream.Config{
		WsURL:          cfg.Venue.PrivateWsURL,
		PingInterval:   cfg.Venue.PingInterval.Duration,
		ReconnectDelay: cfg.Venue.ReconnectDelay.Duration,
	}, logger)

	deps.Vault, err = vault.New(cfg.Vault.MasterSecret, deps.Credentials, deps.Streams, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: vault: %w", err)
	}

	deps.Hub = marketdata.New(marketdata.Config{
		WsURL:          cfg.Venue.PublicWsURL,
		PingInterval:   cfg.Venue.PingInterval.Duration,
		ReconnectDelay: cfg.Venue.ReconnectDelay.Duration,
		QuoteTTL:       cfg.Venue.QuoteTTL.Duration,
	}, deps.Venue, deps.Quotes, logger)

	// --- Core engine and services ---
	deps.Engine = ledger.NewEngine(
		deps.Positions, deps.Trades, deps.Baselines,
		notify.NewLedgerSink(deps.Notifier), logger,
	)

	deps.Portfolio = service.NewPortfolioService(deps.Vault, deps.Hub, deps.Venue, deps.History, logger)
	deps.Tracker = service.NewTrackerService(
		deps.Alerts, deps.Positions, deps.Movements, deps.Baselines, deps.Hub,
		notify.NewTenantMessenger(deps.Notifier, notify.EventAlert),
		deps.Locks, cfg.Notify.MovementThresholdPct, logger,
	)
	deps.TradeSvc = service.NewTradeService(deps.Trades, logger)
	deps.Patterns = service.NewPatternService(deps.Venue, redis.NewSignalCache(redisClient), logger)

	deps.Scheduler = scheduler.New(scheduler.Config{
		FastInterval:   cfg.Scheduler.FastInterval.Duration,
		MediumInterval: cfg.Scheduler.MediumInterval.Duration,
		SlowInterval:   cfg.Scheduler.SlowInterval.Duration,
		TenantDelay:    cfg.Scheduler.TenantDelay.Duration,
	}, deps.Vault, deps.Streams, logger)

	// --- S3 backups (optional) ---
	if cfg.S3.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Backups = s3blob.NewBackupArchiver(
			s3Client, deps.Positions, deps.Baselines, deps.Trades,
			cfg.S3.BackupsKept, logger,
		)
	}

	return deps, cleanup, nil
}
