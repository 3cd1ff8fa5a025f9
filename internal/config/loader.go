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
// built-in defaults, applies KOLBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known KOLBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "KOLBOT_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Handles, "KOLBOT_FEED_HANDLES")
	setDuration(&cfg.Feed.Warmup, "KOLBOT_FEED_WARMUP")
	setDuration(&cfg.Feed.Reconnect, "KOLBOT_FEED_RECONNECT")
	setInt(&cfg.Feed.QueueSize, "KOLBOT_FEED_QUEUE_SIZE")

	// ── Classifier ──
	setStringSlice(&cfg.Classifier.Tickers, "KOLBOT_CLASSIFIER_TICKERS")
	setStringSlice(&cfg.Classifier.SpotAssets, "KOLBOT_CLASSIFIER_SPOT_ASSETS")
	setFloat64(&cfg.Classifier.MinConfidence, "KOLBOT_CLASSIFIER_MIN_CONFIDENCE")
	setInt(&cfg.Classifier.DefaultLeverage, "KOLBOT_CLASSIFIER_DEFAULT_LEVERAGE")

	// ── Coordinator ──
	setInt(&cfg.Coordinator.Workers, "KOLBOT_COORDINATOR_WORKERS")
	setFloat64(&cfg.Coordinator.SpotOrderSize, "KOLBOT_COORDINATOR_SPOT_ORDER_SIZE")
	setFloat64(&cfg.Coordinator.SpotExitFraction, "KOLBOT_COORDINATOR_SPOT_EXIT_FRACTION")
	setFloat64(&cfg.Coordinator.PerpNotionalUSD, "KOLBOT_COORDINATOR_PERP_NOTIONAL_USD")
	setInt(&cfg.Coordinator.MaxLeverage, "KOLBOT_COORDINATOR_MAX_LEVERAGE")
	setDuration(&cfg.Coordinator.PollInitial, "KOLBOT_COORDINATOR_POLL_INITIAL")
	setDuration(&cfg.Coordinator.PollMax, "KOLBOT_COORDINATOR_POLL_MAX")
	setDuration(&cfg.Coordinator.Budget, "KOLBOT_COORDINATOR_BUDGET")
	setInt(&cfg.Coordinator.MaxAttempts, "KOLBOT_COORDINATOR_MAX_ATTEMPTS")
	setInt(&cfg.Coordinator.VenueConcurrency, "KOLBOT_COORDINATOR_VENUE_CONCURRENCY")
	setDuration(&cfg.Coordinator.Retention, "KOLBOT_COORDINATOR_RETENTION")
	setDuration(&cfg.Coordinator.PruneInterval, "KOLBOT_COORDINATOR_PRUNE_INTERVAL")

	// ── Venues ──
	setStr(&cfg.SpotVenue.BaseURL, "KOLBOT_SPOT_VENUE_BASE_URL")
	setStr(&cfg.SpotVenue.QuoteAsset, "KOLBOT_SPOT_VENUE_QUOTE_ASSET")
	setStr(&cfg.PerpVenue.BaseURL, "KOLBOT_PERP_VENUE_BASE_URL")
	setStr(&cfg.PerpVenue.ApiKey, "KOLBOT_PERP_VENUE_API_KEY")
	setStr(&cfg.PerpVenue.ApiSecret, "KOLBOT_PERP_VENUE_API_SECRET")
	setStr(&cfg.PerpVenue.ApiPassphrase, "KOLBOT_PERP_VENUE_API_PASSPHRASE")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "KOLBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "KOLBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "KOLBOT_WALLET_KEY_PASSWORD")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "KOLBOT_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "KOLBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "KOLBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "KOLBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "KOLBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "KOLBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "KOLBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "KOLBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "KOLBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "KOLBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "KOLBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KOLBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KOLBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KOLBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KOLBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KOLBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KOLBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KOLBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KOLBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KOLBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KOLBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "KOLBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KOLBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KOLBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KOLBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KOLBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KOLBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KOLBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KOLBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KOLBOT_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KOLBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KOLBOT_SERVER_PORT")

	// ── Replay ──
	setStr(&cfg.Replay.File, "KOLBOT_REPLAY_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "KOLBOT_MODE")
	setStr(&cfg.LogLevel, "KOLBOT_LOG_LEVEL")
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
