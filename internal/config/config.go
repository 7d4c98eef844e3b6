// Package config defines the top-level configuration for coinwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COINWATCH_* environment variables.
type Config struct {
	Venue     VenueConfig     `toml:"venue"`
	Vault     VaultConfig     `toml:"vault"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig holds the exchange API endpoints and stream tuning.
type VenueConfig struct {
	RestURL      string `toml:"rest_url"`
	PublicWsURL  string `toml:"public_ws_url"`
	PrivateWsURL string `toml:"private_ws_url"`

	// PingInterval is the text-level keepalive cadence on both streams.
	PingInterval duration `toml:"ping_interval"`
	// ReconnectDelay is the flat delay before any stream reconnect attempt.
	ReconnectDelay duration `toml:"reconnect_delay"`
	// QuoteTTL is how long a streamed quote set stays fresh before the hub
	// falls back to REST.
	QuoteTTL duration `toml:"quote_ttl"`
}

// VaultConfig holds the credential encryption parameters.
type VaultConfig struct {
	// MasterSecret is the process-wide secret the AES key is derived from.
	// It is required; a missing master secret is fatal at startup.
	MasterSecret string `toml:"master_secret"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for state backups.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// BackupsKept is how many backup objects are retained per tenant.
	BackupsKept int `toml:"backups_kept"`
}

// SchedulerConfig holds the cadence tiers and rate-limit pacing.
type SchedulerConfig struct {
	FastInterval   duration `toml:"fast_interval"`
	MediumInterval duration `toml:"medium_interval"`
	SlowInterval   duration `toml:"slow_interval"`
	// TenantDelay is the pause between tenants inside one tick, to respect
	// venue rate limits.
	TenantDelay duration `toml:"tenant_delay"`
	// SessionStagger is the pause between private stream startups at boot.
	SessionStagger duration `toml:"session_stagger"`
}

// NotifyConfig holds notification channel credentials. Channels with empty
// credentials are simply not wired.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
	// MovementThresholdPct is the global percentage move that triggers a
	// movement notice; per-asset overrides are stored per tenant.
	MovementThresholdPct float64 `toml:"movement_threshold_pct"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			RestURL:        "https://www.okx.com",
			PublicWsURL:    "wss://ws.okx.com:8443/ws/v5/public",
			PrivateWsURL:   "wss://ws.okx.com:8443/ws/v5/private",
			PingInterval:   duration{25 * time.Second},
			ReconnectDelay: duration{5 * time.Second},
			QuoteTTL:       duration{3 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "coinwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "coinwatch-backups",
			UseSSL:         false,
			ForcePathStyle: true,
			BackupsKept:    10,
		},
		Scheduler: SchedulerConfig{
			FastInterval:   duration{1 * time.Minute},
			MediumInterval: duration{5 * time.Minute},
			SlowInterval:   duration{30 * time.Minute},
			TenantDelay:    duration{200 * time.Millisecond},
			SessionStagger: duration{500 * time.Millisecond},
		},
		Notify: NotifyConfig{
			Events:               []string{"buy", "sell", "close", "alert", "pattern", "summary"},
			MovementThresholdPct: 10,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	if c.Venue.RestURL == "" {
		errs = append(errs, "venue: rest_url must not be empty")
	}
	if c.Venue.PublicWsURL == "" {
		errs = append(errs, "venue: public_ws_url must not be empty")
	}
	if c.Venue.PrivateWsURL == "" {
		errs = append(errs, "venue: private_ws_url must not be empty")
	}
	if c.Venue.PingInterval.Duration <= 0 {
		errs = append(errs, "venue: ping_interval must be positive")
	}
	if c.Venue.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "venue: reconnect_delay must be positive")
	}
	if c.Venue.QuoteTTL.Duration <= 0 {
		errs = append(errs, "venue: quote_ttl must be positive")
	}

	// Vault — a missing master secret is process-fatal by design.
	if strings.TrimSpace(c.Vault.MasterSecret) == "" {
		errs = append(errs, "vault: master_secret must be set (COINWATCH_VAULT_MASTER_SECRET)")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 (only when backups are enabled)
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.BackupsKept < 1 {
			errs = append(errs, "s3: backups_kept must be >= 1")
		}
	}

	// Scheduler
	if c.Scheduler.FastInterval.Duration <= 0 {
		errs = append(errs, "scheduler: fast_interval must be positive")
	}
	if c.Scheduler.MediumInterval.Duration <= 0 {
		errs = append(errs, "scheduler: medium_interval must be positive")
	}
	if c.Scheduler.SlowInterval.Duration <= 0 {
		errs = append(errs, "scheduler: slow_interval must be positive")
	}
	if c.Scheduler.TenantDelay.Duration < 0 {
		errs = append(errs, "scheduler: tenant_delay must not be negative")
	}

	// Notify — token and chat ID go together.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.MovementThresholdPct < 0 {
		errs = append(errs, "notify: movement_threshold_pct must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
