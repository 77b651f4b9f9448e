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
// built-in defaults, applies DORSIA_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DORSIA_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Registry ──
	setUint64(&cfg.Registry.MaxSupply, "DORSIA_REGISTRY_MAX_SUPPLY")
	setStr(&cfg.Registry.MintPrice, "DORSIA_REGISTRY_MINT_PRICE")
	setStr(&cfg.Registry.UpdateFee, "DORSIA_REGISTRY_UPDATE_FEE")
	setStr(&cfg.Registry.DefaultURI, "DORSIA_REGISTRY_DEFAULT_URI")
	setStr(&cfg.Registry.OwnerAddress, "DORSIA_REGISTRY_OWNER_ADDRESS")
	setStr(&cfg.Registry.Account, "DORSIA_REGISTRY_ACCOUNT")
	setBool(&cfg.Registry.SaleActive, "DORSIA_REGISTRY_SALE_ACTIVE")

	// ── Market ──
	setStr(&cfg.Market.MinListingPrice, "DORSIA_MARKET_MIN_LISTING_PRICE")
	setStr(&cfg.Market.Account, "DORSIA_MARKET_ACCOUNT")
	setBool(&cfg.Market.Active, "DORSIA_MARKET_ACTIVE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Address, "DORSIA_ORACLE_ADDRESS")
	setStr(&cfg.Oracle.Fee, "DORSIA_ORACLE_FEE")
	setStr(&cfg.Oracle.TreasuryAddress, "DORSIA_ORACLE_TREASURY_ADDRESS")
	setStr(&cfg.Oracle.CallbackSecret, "DORSIA_ORACLE_CALLBACK_SECRET")
	setStr(&cfg.Oracle.EncryptedSecretPath, "DORSIA_ORACLE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Oracle.SecretPassword, "DORSIA_ORACLE_SECRET_PASSWORD")
	setStr(&cfg.Oracle.MetadataBaseURI, "DORSIA_ORACLE_METADATA_BASE_URI")
	setStr(&cfg.Oracle.CallbackURL, "DORSIA_ORACLE_CALLBACK_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DORSIA_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DORSIA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DORSIA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DORSIA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DORSIA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DORSIA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DORSIA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DORSIA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DORSIA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DORSIA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DORSIA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DORSIA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DORSIA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DORSIA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DORSIA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DORSIA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DORSIA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DORSIA_S3_REGION")
	setStr(&cfg.S3.Bucket, "DORSIA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DORSIA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DORSIA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DORSIA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DORSIA_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DORSIA_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DORSIA_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DORSIA_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DORSIA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DORSIA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DORSIA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DORSIA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DORSIA_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "DORSIA_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DORSIA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DORSIA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DORSIA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DORSIA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DORSIA_MODE")
	setStr(&cfg.LogLevel, "DORSIA_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
