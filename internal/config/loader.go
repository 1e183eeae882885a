package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces every environment override.
const envPrefix = "LATENCYBOT_"

// Load reads a configuration file at path, merges it on top of the built-in
// defaults, applies LATENCYBOT_* environment variable overrides, and returns
// the final Config. Files ending in .yaml or .yml are decoded as YAML, anything
// else as TOML. A missing file is not an error; the defaults and environment
// are used instead. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if err := decodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		return nil
	default:
		_, err := toml.DecodeFile(path, cfg)
		return err
	}
}

// applyEnvOverrides reads well-known LATENCYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Feeds ──
	setStr(&cfg.Reference.Venue, "REFERENCE_VENUE")
	setStr(&cfg.Reference.Endpoint, "REFERENCE_ENDPOINT")
	setStr(&cfg.Reference.Symbol, "REFERENCE_SYMBOL")
	setStr(&cfg.Market.Endpoint, "MARKET_ENDPOINT")
	setStr(&cfg.Market.AssetID, "MARKET_ASSET_ID")
	setDuration(&cfg.Feed.BackoffBase, "FEED_BACKOFF_BASE")
	setDuration(&cfg.Feed.BackoffMax, "FEED_BACKOFF_MAX")
	setInt(&cfg.Feed.MaxAttempts, "FEED_MAX_ATTEMPTS")
	setDuration(&cfg.Feed.PingInterval, "FEED_PING_INTERVAL")

	// ── Engine ──
	setFloat64(&cfg.Engine.EdgeThreshold, "ENGINE_EDGE_THRESHOLD")
	setDuration(&cfg.Engine.Cooldown, "ENGINE_COOLDOWN")
	setDuration(&cfg.Engine.StalenessBound, "ENGINE_STALENESS_BOUND")
	setFloat64(&cfg.Engine.OrderSize, "ENGINE_ORDER_SIZE")
	setFloat64(&cfg.Engine.MaxPosition, "ENGINE_MAX_POSITION")
	setBool(&cfg.Engine.YesIsUpside, "ENGINE_YES_IS_UPSIDE")
	setDuration(&cfg.Engine.DispatchTimeout, "ENGINE_DISPATCH_TIMEOUT")
	setDuration(&cfg.Engine.ShutdownGrace, "ENGINE_SHUTDOWN_GRACE")

	// ── Limits ──
	setInt(&cfg.Limits.MaxTradesPerMinute, "LIMITS_MAX_TRADES_PER_MINUTE")
	setFloat64(&cfg.Limits.MaxNotionalPerTrade, "LIMITS_MAX_NOTIONAL_PER_TRADE")
	setDuration(&cfg.Limits.DedupTTL, "LIMITS_DEDUP_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.IntentStream, "REDIS_INTENT_STREAM")
	setStr(&cfg.Redis.ObservationCh, "REDIS_OBSERVATION_CHANNEL")
	setStr(&cfg.Redis.LockKey, "REDIS_LOCK_KEY")
	setDuration(&cfg.Redis.LockTTL, "REDIS_LOCK_TTL")
	setDuration(&cfg.Redis.PriceTTL, "REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setDuration(&cfg.S3.ArchiveInterval, "S3_ARCHIVE_INTERVAL")
	setStr(&cfg.S3.ArchiveCron, "S3_ARCHIVE_CRON")
	setInt(&cfg.S3.ArchiveRetentionDays, "S3_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setBool(&cfg.DryRun, "DRY_RUN")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.LogFile.Path, "LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
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
