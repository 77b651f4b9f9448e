package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/zkzoomer/dorsiaclub/internal/bank"
	s3blob "github.com/zkzoomer/dorsiaclub/internal/blob/s3"
	"github.com/zkzoomer/dorsiaclub/internal/cache/redis"
	"github.com/zkzoomer/dorsiaclub/internal/config"
	"github.com/zkzoomer/dorsiaclub/internal/crypto"
	"github.com/zkzoomer/dorsiaclub/internal/domain"
	"github.com/zkzoomer/dorsiaclub/internal/notify"
	"github.com/zkzoomer/dorsiaclub/internal/registry"
	"github.com/zkzoomer/dorsiaclub/internal/service"
	"github.com/zkzoomer/dorsiaclub/internal/store/postgres"
	"github.com/zkzoomer/dorsiaclub/internal/token"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores (Postgres mirrors of the in-memory ledgers)
	CardStore    domain.CardStore
	ListingStore *postgres.ListingStore
	AuditStore   domain.AuditStore

	// Redis
	URICache    domain.URICache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	BlobDeleter domain.BlobDeleter
	Archiver    domain.Archiver

	// Core ledgers and services
	Bank     *bank.Ledger
	Tokens   domain.TokenRegistry
	Oracle   *service.OracleService
	Cards    *service.CardService
	Listings *service.ListingService

	// Oracle callback channel identity
	OracleAuth *crypto.OracleAuth

	// Addresses resolved from config
	Owner         common.Address
	OracleAddress common.Address

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that mirror state into the database.
func needsPostgres(mode string) bool {
	return mode == "serve" || mode == "full"
}

// needsS3 returns true for modes that write metadata documents or archives
// to object storage. The serve mode needs it only for the archiver.
func needsS3(mode string) bool {
	switch mode {
	case "serve", "oracle", "full":
		return true
	default:
		return false
	}
}

// deriveAccount produces a stable synthetic address for an internal account
// when the operator does not configure one.
func deriveAccount(label string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("dorsiaclub/" + label))[12:])
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Owner:         common.HexToAddress(cfg.Registry.OwnerAddress),
		OracleAddress: common.HexToAddress(cfg.Oracle.Address),
	}

	// --- PostgreSQL (mirror of the in-memory ledgers) ---
	if needsPostgres(cfg.Mode) {
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
		deps.CardStore = postgres.NewCardStore(pool)
		deps.ListingStore = postgres.NewListingStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

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

	deps.URICache = redis.NewURICache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.BlobDeleter = reader // same type implements BlobDeleter
		if deps.ListingStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.ListingStore, deps.AuditStore)
		}
	}

	// --- Oracle callback secret ---
	secret := cfg.Oracle.CallbackSecret
	if secret == "" && cfg.Oracle.EncryptedSecretPath != "" {
		blob, err := os.ReadFile(cfg.Oracle.EncryptedSecretPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: read encrypted secret: %w", err)
		}
		secret, err = crypto.DecryptSecret(blob, cfg.Oracle.SecretPassword)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: decrypt callback secret: %w", err)
		}
	}
	deps.OracleAuth = &crypto.OracleAuth{
		Address: deps.OracleAddress.Hex(),
		Secret:  secret,
	}

	// --- Core ledgers ---
	deps.Bank = bank.New()
	deps.Tokens = token.NewRegistry()
	names := registry.NewNameRegistry()
	requests := registry.NewRequestLedger()

	registryAccount := deps.Owner
	if cfg.Registry.Account != "" {
		registryAccount = common.HexToAddress(cfg.Registry.Account)
	}
	marketAccount := deriveAccount("marketplace")
	if cfg.Market.Account != "" {
		marketAccount = common.HexToAddress(cfg.Market.Account)
	}
	treasury := registryAccount
	if cfg.Oracle.TreasuryAddress != "" {
		treasury = common.HexToAddress(cfg.Oracle.TreasuryAddress)
	}

	// --- Services ---
	deps.Oracle = service.NewOracleService(
		requests,
		deps.Bank,
		deps.SignalBus,
		deps.AuditStore,
		deps.OracleAddress,
		config.Amount(cfg.Oracle.Fee),
		treasury,
		logger,
	)

	deps.Cards = service.NewCardService(
		service.CardConfig{
			MaxSupply:  cfg.Registry.MaxSupply,
			MintPrice:  config.Amount(cfg.Registry.MintPrice),
			UpdateFee:  config.Amount(cfg.Registry.UpdateFee),
			DefaultURI: cfg.Registry.DefaultURI,
			Owner:      deps.Owner,
			Account:    registryAccount,
		},
		names,
		requests,
		deps.Tokens,
		deps.Bank,
		deps.Oracle,
		deps.AuditStore,
		logger,
	)
	deps.Oracle.WithResolver(deps.Cards)
	deps.Cards.WithCache(deps.URICache)
	if deps.CardStore != nil {
		deps.Cards.WithMirror(deps.CardStore)
	}

	deps.Listings = service.NewListingService(
		service.ListingConfig{
			MinPrice: config.Amount(cfg.Market.MinListingPrice),
			Owner:    deps.Owner,
			Account:  marketAccount,
		},
		deps.Cards,
		deps.Tokens,
		deps.Bank,
		deps.SignalBus,
		deps.AuditStore,
		logger,
	)
	if deps.ListingStore != nil {
		deps.Listings.WithMirror(deps.ListingStore)
	}

	// The marketplace escrow updates cards on behalf of buyers; registering
	// it as collaborator waives the fee the buyer already paid.
	if err := deps.Cards.SetCollaborator(ctx, deps.Owner, marketAccount); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: register marketplace collaborator: %w", err)
	}
	if cfg.Registry.SaleActive {
		if err := deps.Cards.SetSaleActive(ctx, deps.Owner, true); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: open card sale: %w", err)
		}
	}
	if cfg.Market.Active {
		if err := deps.Listings.StartMarketplace(ctx, deps.Owner); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: open marketplace: %w", err)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
