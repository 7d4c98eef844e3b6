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
// built-in defaults, applies COINWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COINWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.RestURL, "COINWATCH_VENUE_REST_URL")
	setStr(&cfg.Venue.PublicWsURL, "COINWATCH_VENUE_PUBLIC_WS_URL")
	setStr(&cfg.Venue.PrivateWsURL, "COINWATCH_VENUE_PRIVATE_WS_URL")
	setDuration(&cfg.Venue.PingInterval, "COINWATCH_VENUE_PING_INTERVAL")
	setDuration(&cfg.Venue.ReconnectDelay, "COINWATCH_VENUE_RECONNECT_DELAY")
	setDuration(&cfg.Venue.QuoteTTL, "COINWATCH_VENUE_QUOTE_TTL")

	// ── Vault ──
	setStr(&cfg.Vault.MasterSecret, "COINWATCH_VAULT_MASTER_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COINWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COINWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COINWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COINWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COINWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COINWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COINWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COINWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COINWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COINWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COINWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COINWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COINWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COINWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COINWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COINWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COINWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COINWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COINWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "COINWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COINWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COINWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COINWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COINWATCH_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.BackupsKept, "COINWATCH_S3_BACKUPS_KEPT")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.FastInterval, "COINWATCH_SCHEDULER_FAST_INTERVAL")
	setDuration(&cfg.Scheduler.MediumInterval, "COINWATCH_SCHEDULER_MEDIUM_INTERVAL")
	setDuration(&cfg.Scheduler.SlowInterval, "COINWATCH_SCHEDULER_SLOW_INTERVAL")
	setDuration(&cfg.Scheduler.TenantDelay, "COINWATCH_SCHEDULER_TENANT_DELAY")
	setDuration(&cfg.Scheduler.SessionStagger, "COINWATCH_SCHEDULER_SESSION_STAGGER")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COINWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COINWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "COINWATCH_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "COINWATCH_NOTIFY_EVENTS")
	setFloat(&cfg.Notify.MovementThresholdPct, "COINWATCH_NOTIFY_MOVEMENT_THRESHOLD_PCT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "COINWATCH_LOG_LEVEL")
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

func setFloat(dst *float64, key string) {
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
