// Package config defines the top-level configuration for kolbot and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KOLBOT_* environment variables.
type Config struct {
	Feed        FeedConfig        `toml:"feed"`
	Classifier  ClassifierConfig  `toml:"classifier"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	SpotVenue   SpotVenueConfig   `toml:"spot_venue"`
	PerpVenue   PerpVenueConfig   `toml:"perp_venue"`
	Wallet      WalletConfig      `toml:"wallet"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Notify      NotifyConfig      `toml:"notify"`
	Server      ServerConfig      `toml:"server"`
	Replay      ReplayConfig      `toml:"replay"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// FeedConfig holds the post feed connection parameters.
type FeedConfig struct {
	WsURL string `toml:"ws_url"`
	// Handles is the list of watched account screen names.
	Handles []string `toml:"handles"`
	// Warmup is how long after connect to drop replayed backlog frames.
	Warmup duration `toml:"warmup"`
	// Reconnect is the pause before re-dialing after a disconnect.
	Reconnect duration `toml:"reconnect"`
	// QueueSize is the capacity of the post channel between feed and workers.
	QueueSize int `toml:"queue_size"`
}

// ClassifierConfig holds the keyword classifier parameters.
type ClassifierConfig struct {
	// Tickers is the recognized symbol set. Posts mentioning none of these
	// produce no signal.
	Tickers []string `toml:"tickers"`
	// SpotAssets route to the spot venue; everything else goes to perp.
	SpotAssets []string `toml:"spot_assets"`
	// MinConfidence gates weak matches to NONE.
	MinConfidence float64 `toml:"min_confidence"`
	// DefaultLeverage is used when a post names no leverage.
	DefaultLeverage int `toml:"default_leverage"`
}

// CoordinatorConfig holds execution coordinator parameters.
type CoordinatorConfig struct {
	Workers int `toml:"workers"`
	// SpotOrderSize is the quote-asset size of a spot entry.
	SpotOrderSize float64 `toml:"spot_order_size"`
	// SpotExitFraction is the share of holdings sold on a SELL signal.
	SpotExitFraction float64 `toml:"spot_exit_fraction"`
	// PerpNotionalUSD is the margin allocated per perp open.
	PerpNotionalUSD float64 `toml:"perp_notional_usd"`
	MaxLeverage     int     `toml:"max_leverage"`

	// Poll backoff: exponential with jitter, capped.
	PollInitial duration `toml:"poll_initial"`
	PollMax     duration `toml:"poll_max"`
	// Budget is the wall-clock limit before a record is declared EXPIRED.
	Budget      duration `toml:"budget"`
	MaxAttempts int      `toml:"max_attempts"`

	// VenueConcurrency caps in-flight calls per venue, independent of the
	// worker pool size.
	VenueConcurrency int `toml:"venue_concurrency"`

	// Retention is how long terminal execution records are kept before
	// pruning; it must cover any plausible venue settlement delay.
	Retention     duration `toml:"retention"`
	PruneInterval duration `toml:"prune_interval"`
}

// SpotVenueConfig holds the spot swap aggregator endpoint.
type SpotVenueConfig struct {
	BaseURL    string `toml:"base_url"`
	QuoteAsset string `toml:"quote_asset"`
}

// PerpVenueConfig holds the perp exchange endpoint and API credentials.
type PerpVenueConfig struct {
	BaseURL       string `toml:"base_url"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// WalletConfig holds the spot signing key. Either a raw hex key or an
// encrypted keyfile plus password.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	// Enabled turns persistence on. Without it the ledger and dedup store are
	// memory-only and state does not survive a restart.
	Enabled bool `toml:"enabled"`
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
}

// S3Config holds S3-compatible object storage parameters for record archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the status HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// ReplayConfig holds replay mode parameters.
type ReplayConfig struct {
	// File is a JSONL file of archived posts to re-feed through the
	// classifier and coordinator with simulated venues.
	File string `toml:"file"`
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			Warmup:    duration{10 * time.Second},
			Reconnect: duration{5 * time.Second},
			QueueSize: 256,
		},
		Classifier: ClassifierConfig{
			Tickers:         []string{"BTC", "ETH", "SOL", "DOGE", "POPCAT", "WIF", "PEPE", "HYPE", "ASTER"},
			SpotAssets:      []string{"POPCAT", "WIF", "PEPE"},
			MinConfidence:   0.5,
			DefaultLeverage: 5,
		},
		Coordinator: CoordinatorConfig{
			Workers:          4,
			SpotOrderSize:    50,
			SpotExitFraction: 1.0,
			PerpNotionalUSD:  100,
			MaxLeverage:      30,
			PollInitial:      duration{2 * time.Second},
			PollMax:          duration{60 * time.Second},
			Budget:           duration{10 * time.Minute},
			MaxAttempts:      20,
			VenueConcurrency: 2,
			Retention:        duration{24 * time.Hour},
			PruneInterval:    duration{1 * time.Hour},
		},
		SpotVenue: SpotVenueConfig{
			QuoteAsset: "USDC",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "kolbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "kolbot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"post_observed", "trade_confirmed", "trade_failed", "trade_expired"},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"replay":  true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	mode := strings.ToLower(c.Mode)

	// Feed is required except in replay mode.
	if mode != "replay" {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty")
		}
		if len(c.Feed.Handles) == 0 {
			errs = append(errs, "feed: at least one watched handle is required")
		}
	}
	if c.Feed.QueueSize < 1 {
		errs = append(errs, "feed: queue_size must be >= 1")
	}

	if len(c.Classifier.Tickers) == 0 {
		errs = append(errs, "classifier: tickers must not be empty")
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("classifier: min_confidence must be in [0,1], got %f", c.Classifier.MinConfidence))
	}
	if c.Classifier.DefaultLeverage < 1 {
		errs = append(errs, "classifier: default_leverage must be >= 1")
	}

	if c.Coordinator.Workers < 1 {
		errs = append(errs, "coordinator: workers must be >= 1")
	}
	if c.Coordinator.SpotOrderSize <= 0 {
		errs = append(errs, "coordinator: spot_order_size must be > 0")
	}
	if c.Coordinator.SpotExitFraction <= 0 || c.Coordinator.SpotExitFraction > 1 {
		errs = append(errs, "coordinator: spot_exit_fraction must be in (0,1]")
	}
	if c.Coordinator.PerpNotionalUSD <= 0 {
		errs = append(errs, "coordinator: perp_notional_usd must be > 0")
	}
	if c.Coordinator.PollInitial.Duration <= 0 {
		errs = append(errs, "coordinator: poll_initial must be positive")
	}
	if c.Coordinator.PollMax.Duration < c.Coordinator.PollInitial.Duration {
		errs = append(errs, "coordinator: poll_max must be >= poll_initial")
	}
	if c.Coordinator.Budget.Duration <= 0 {
		errs = append(errs, "coordinator: budget must be positive")
	}
	if c.Coordinator.MaxAttempts < 1 {
		errs = append(errs, "coordinator: max_attempts must be >= 1")
	}
	if c.Coordinator.VenueConcurrency < 1 {
		errs = append(errs, "coordinator: venue_concurrency must be >= 1")
	}
	if c.Coordinator.Retention.Duration <= 0 {
		errs = append(errs, "coordinator: retention must be positive")
	}

	// Venues and wallet are required for live trading only.
	if mode == "trade" {
		if c.SpotVenue.BaseURL == "" {
			errs = append(errs, "spot_venue: base_url must not be empty in trade mode")
		}
		if c.PerpVenue.BaseURL == "" {
			errs = append(errs, "perp_venue: base_url must not be empty in trade mode")
		}
		if c.PerpVenue.ApiKey == "" || c.PerpVenue.ApiSecret == "" {
			errs = append(errs, "perp_venue: api_key and api_secret are required in trade mode")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set in trade mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}
	if c.SpotVenue.QuoteAsset == "" {
		errs = append(errs, "spot_venue: quote_asset must not be empty")
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if mode == "replay" && c.Replay.File == "" {
		errs = append(errs, "replay: file must be set in replay mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
