package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/kolstream/kolbot/internal/blob/s3"
	"github.com/kolstream/kolbot/internal/cache/redis"
	"github.com/kolstream/kolbot/internal/config"
	"github.com/kolstream/kolbot/internal/crypto"
	"github.com/kolstream/kolbot/internal/dedup"
	"github.com/kolstream/kolbot/internal/domain"
	"github.com/kolstream/kolbot/internal/ledger"
	"github.com/kolstream/kolbot/internal/notify"
	"github.com/kolstream/kolbot/internal/store/postgres"
	"github.com/kolstream/kolbot/internal/venue/perp"
	"github.com/kolstream/kolbot/internal/venue/sim"
	"github.com/kolstream/kolbot/internal/venue/spot"
)

// Dependencies bundles everything the operating modes need. Optional members
// (stores, caches, blob storage) are nil when their backend is disabled; the
// consumers degrade to memory-only behavior.
type Dependencies struct {
	// Persistence
	PositionStore  domain.PositionStore
	ExecutionStore domain.ExecutionStore
	AuditStore     domain.AuditStore

	// Cross-replica coordination
	LockManager domain.LockManager
	SeenCache   domain.SeenCache

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   dedup.Archiver

	// Core state
	Ledger *ledger.Ledger
	Dedup  *dedup.Store

	// Venues
	Spot domain.SpotVenue
	Perp domain.PerpVenue

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations from configuration
// and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SeenCache = redis.NewSeenCache(redisClient)
	}

	// --- S3 blob storage ---
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter)
	}

	// --- Core state ---
	deps.Ledger = ledger.New(deps.PositionStore, logger)
	if err := deps.Ledger.Rehydrate(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	deps.Dedup = dedup.New(deps.ExecutionStore, deps.Archiver, cfg.Coordinator.Retention.Duration, logger)
	if err := deps.Dedup.Rehydrate(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: dedup: %w", err)
	}

	// --- Venues ---
	if strings.ToLower(cfg.Mode) == "trade" {
		keyHex, err := crypto.LoadWalletKey(crypto.WalletConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		signer, err := crypto.NewWalletSigner(keyHex)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet signer: %w", err)
		}
		logger.Info("trading wallet loaded", slog.String("address", signer.Address().Hex()))

		deps.Spot = spot.NewClient(cfg.SpotVenue.BaseURL, cfg.SpotVenue.QuoteAsset, signer)
		deps.Perp = perp.NewClient(cfg.PerpVenue.BaseURL, &crypto.HMACAuth{
			Key:        cfg.PerpVenue.ApiKey,
			Secret:     cfg.PerpVenue.ApiSecret,
			Passphrase: cfg.PerpVenue.ApiPassphrase,
		})
	} else {
		// Monitor and replay never touch real venues.
		deps.Spot = sim.NewSpot(1.0, logger)
		deps.Perp = sim.NewPerp(1.0, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
