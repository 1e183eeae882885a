// Package config defines the top-level configuration for the latency bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// or YAML file and then optionally overridden by LATENCYBOT_* environment
// variables.
type Config struct {
	Reference ReferenceConfig `toml:"reference" yaml:"reference"`
	Market    MarketConfig    `toml:"market" yaml:"market"`
	Feed      FeedConfig      `toml:"feed" yaml:"feed"`
	Engine    EngineConfig    `toml:"engine" yaml:"engine"`
	Limits    LimitsConfig    `toml:"limits" yaml:"limits"`
	Postgres  PostgresConfig  `toml:"postgres" yaml:"postgres"`
	Redis     RedisConfig     `toml:"redis" yaml:"redis"`
	S3        S3Config        `toml:"s3" yaml:"s3"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Notify    NotifyConfig    `toml:"notify" yaml:"notify"`
	DryRun    bool            `toml:"dry_run" yaml:"dry_run"`
	LogLevel  string          `toml:"log_level" yaml:"log_level"`
	LogFile   LogFileConfig   `toml:"log_file" yaml:"log_file"`
}

// LogFileConfig enables a rotating JSON log file next to stdout. An empty
// Path disables it.
type LogFileConfig struct {
	Path       string `toml:"path" yaml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// ReferenceConfig selects the spot venue that drives edge detection.
type ReferenceConfig struct {
	Venue    string `toml:"venue" yaml:"venue"`
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	Symbol   string `toml:"symbol" yaml:"symbol"`
}

// MarketConfig points at the prediction-market order book to track.
type MarketConfig struct {
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	AssetID  string `toml:"asset_id" yaml:"asset_id"`
}

// FeedConfig holds reconnect and keep-alive policy shared by both feeds.
type FeedConfig struct {
	BackoffBase  duration `toml:"backoff_base" yaml:"backoff_base"`
	BackoffMax   duration `toml:"backoff_max" yaml:"backoff_max"`
	MaxAttempts  int      `toml:"max_attempts" yaml:"max_attempts"`
	PingInterval duration `toml:"ping_interval" yaml:"ping_interval"`
}

// EngineConfig holds edge detection policy.
type EngineConfig struct {
	EdgeThreshold   float64  `toml:"edge_threshold" yaml:"edge_threshold"`
	Cooldown        duration `toml:"cooldown" yaml:"cooldown"`
	StalenessBound  duration `toml:"staleness_bound" yaml:"staleness_bound"`
	OrderSize       float64  `toml:"order_size" yaml:"order_size"`
	MaxPosition     float64  `toml:"max_position" yaml:"max_position"`
	YesIsUpside     bool     `toml:"yes_is_upside" yaml:"yes_is_upside"`
	DispatchTimeout duration `toml:"dispatch_timeout" yaml:"dispatch_timeout"`
	ShutdownGrace   duration `toml:"shutdown_grace" yaml:"shutdown_grace"`
}

// LimitsConfig holds gateway-side guards.
type LimitsConfig struct {
	MaxTradesPerMinute  int      `toml:"max_trades_per_minute" yaml:"max_trades_per_minute"`
	MaxNotionalPerTrade float64  `toml:"max_notional_per_trade" yaml:"max_notional_per_trade"`
	DedupTTL            duration `toml:"dedup_ttl" yaml:"dedup_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled"`
	Addr          string   `toml:"addr" yaml:"addr"`
	Password      string   `toml:"password" yaml:"password"`
	DB            int      `toml:"db" yaml:"db"`
	PoolSize      int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries    int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	IntentStream  string   `toml:"intent_stream" yaml:"intent_stream"`
	ObservationCh string   `toml:"observation_channel" yaml:"observation_channel"`
	LockKey       string   `toml:"lock_key" yaml:"lock_key"`
	LockTTL       duration `toml:"lock_ttl" yaml:"lock_ttl"`
	PriceTTL      duration `toml:"price_ttl" yaml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled              bool     `toml:"enabled" yaml:"enabled"`
	Endpoint             string   `toml:"endpoint" yaml:"endpoint"`
	Region               string   `toml:"region" yaml:"region"`
	Bucket               string   `toml:"bucket" yaml:"bucket"`
	AccessKey            string   `toml:"access_key" yaml:"access_key"`
	SecretKey            string   `toml:"secret_key" yaml:"secret_key"`
	UseSSL               bool     `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle       bool     `toml:"force_path_style" yaml:"force_path_style"`
	Prefix               string   `toml:"prefix" yaml:"prefix"`
	ArchiveInterval      duration `toml:"archive_interval" yaml:"archive_interval"`
	ArchiveCron          string   `toml:"archive_cron" yaml:"archive_cron"`
	ArchiveRetentionDays int      `toml:"archive_retention_days" yaml:"archive_retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled" yaml:"enabled"`
	Port            int      `toml:"port" yaml:"port"`
	APIKey          string   `toml:"api_key" yaml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins" yaml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit" yaml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window" yaml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Reference: ReferenceConfig{
			Venue:    "coinbase",
			Endpoint: "wss://ws-feed.exchange.coinbase.com",
			Symbol:   "BTC-USD",
		},
		Market: MarketConfig{
			Endpoint: "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Feed: FeedConfig{
			BackoffBase:  duration{time.Second},
			BackoffMax:   duration{8 * time.Second},
			MaxAttempts:  20,
			PingInterval: duration{15 * time.Second},
		},
		Engine: EngineConfig{
			EdgeThreshold:   0.002,
			Cooldown:        duration{5 * time.Second},
			StalenessBound:  duration{30 * time.Second},
			OrderSize:       100,
			MaxPosition:     0,
			YesIsUpside:     true,
			DispatchTimeout: duration{10 * time.Second},
			ShutdownGrace:   duration{5 * time.Second},
		},
		Limits: LimitsConfig{
			MaxTradesPerMinute:  6,
			MaxNotionalPerTrade: 0,
			DedupTTL:            duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			IntentStream:  "latencybot:intents",
			ObservationCh: "latencybot:observations",
			LockKey:       "latencybot:engine",
			LockTTL:       duration{15 * time.Second},
			PriceTTL:      duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "latencybot-audit",
			ForcePathStyle:       true,
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            9100,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trigger", "execution_failed", "degraded", "lifecycle"},
		},
		DryRun:   true,
		LogLevel: "info",
		LogFile: LogFileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// validVenues enumerates the accepted values for Reference.Venue.
var validVenues = map[string]bool{
	"coinbase": true,
	"kraken":   true,
	"binance":  true,
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

	// Feeds
	if !validVenues[strings.ToLower(c.Reference.Venue)] {
		errs = append(errs, fmt.Sprintf("reference: unknown venue %q (valid: coinbase, kraken, binance)", c.Reference.Venue))
	}
	if c.Reference.Endpoint == "" {
		errs = append(errs, "reference: endpoint must not be empty")
	}
	if c.Reference.Symbol == "" {
		errs = append(errs, "reference: symbol must not be empty")
	}
	if c.Market.Endpoint == "" {
		errs = append(errs, "market: endpoint must not be empty")
	}
	if c.Market.AssetID == "" {
		errs = append(errs, "market: asset_id must not be empty")
	}
	if c.Feed.BackoffBase.Duration <= 0 {
		errs = append(errs, "feed: backoff_base must be > 0")
	}
	if c.Feed.BackoffMax.Duration < c.Feed.BackoffBase.Duration {
		errs = append(errs, "feed: backoff_max must be >= backoff_base")
	}
	if c.Feed.MaxAttempts < 0 {
		errs = append(errs, "feed: max_attempts must be >= 0 (0 = unlimited)")
	}

	// Engine
	if c.Engine.EdgeThreshold <= 0 {
		errs = append(errs, "engine: edge_threshold must be > 0")
	}
	if c.Engine.Cooldown.Duration < 0 {
		errs = append(errs, "engine: cooldown must be >= 0")
	}
	if c.Engine.StalenessBound.Duration <= 0 {
		errs = append(errs, "engine: staleness_bound must be > 0")
	}
	if c.Engine.OrderSize <= 0 {
		errs = append(errs, "engine: order_size must be > 0")
	}
	if c.Engine.MaxPosition < 0 {
		errs = append(errs, "engine: max_position must be >= 0 (0 = unlimited)")
	}
	if c.Engine.DispatchTimeout.Duration <= 0 {
		errs = append(errs, "engine: dispatch_timeout must be > 0")
	}
	if c.Engine.ShutdownGrace.Duration <= 0 {
		errs = append(errs, "engine: shutdown_grace must be > 0")
	}

	// Limits
	if c.Limits.MaxTradesPerMinute < 0 {
		errs = append(errs, "limits: max_trades_per_minute must be >= 0 (0 = unlimited)")
	}
	if c.Limits.MaxNotionalPerTrade < 0 {
		errs = append(errs, "limits: max_notional_per_trade must be >= 0 (0 = unlimited)")
	}
	if c.Limits.DedupTTL.Duration <= 0 {
		errs = append(errs, "limits: dedup_ttl must be > 0")
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

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}
	if !c.DryRun && !c.Redis.Enabled {
		errs = append(errs, "dry_run=false requires redis.enabled (intents are handed off over a redis stream)")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
		if c.S3.ArchiveCron == "" && c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0 (or set archive_cron)")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
