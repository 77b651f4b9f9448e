// Package config defines the top-level configuration for the card registry
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DORSIA_* environment variables.
type Config struct {
	Registry RegistryConfig `toml:"registry"`
	Market   MarketConfig   `toml:"market"`
	Oracle   OracleConfig   `toml:"oracle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RegistryConfig holds the card registry parameters. Monetary amounts are
// decimal strings of the smallest currency unit.
type RegistryConfig struct {
	MaxSupply    uint64 `toml:"max_supply"`
	MintPrice    string `toml:"mint_price"`
	UpdateFee    string `toml:"update_fee"`
	DefaultURI   string `toml:"default_uri"`
	OwnerAddress string `toml:"owner_address"`
	Account      string `toml:"account"`
	SaleActive   bool   `toml:"sale_active"`
}

// MarketConfig holds the marketplace parameters.
type MarketConfig struct {
	MinListingPrice string `toml:"min_listing_price"`
	Account         string `toml:"account"`
	Active          bool   `toml:"active"`
}

// OracleConfig holds the oracle identity, fee and callback channel secrets.
type OracleConfig struct {
	Address             string `toml:"address"`
	Fee                 string `toml:"fee"`
	TreasuryAddress     string `toml:"treasury_address"`
	CallbackSecret      string `toml:"callback_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	MetadataBaseURI     string `toml:"metadata_base_uri"`

	// CallbackURL is the registry base URL a standalone worker posts
	// resolutions to. Unused in full mode, where the worker resolves
	// in-process.
	CallbackURL string `toml:"callback_url"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds retention parameters for terminal listings and audit
// log rows archived to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
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
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Registry: RegistryConfig{
			MaxSupply:  1111,
			MintPrice:  "30000000000000000", // 0.03 in 18-decimal units
			UpdateFee:  "2000000000000000",
			DefaultURI: "https://cards.dorsia.club/cards/default.json",
			SaleActive: false,
		},
		Market: MarketConfig{
			MinListingPrice: "1000000000000000",
			Active:          false,
		},
		Oracle: OracleConfig{
			Fee:             "1000000000000000",
			MetadataBaseURI: "https://cards.dorsia.club",
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
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dorsiaclub-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"card_update_requested", "card_uri_resolved", "listing_filled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "serve" runs
// only the API server, "oracle" only the metadata worker, "full" both.
var validModes = map[string]bool{
	"serve":  true,
	"oracle": true,
	"full":   true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, oracle, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Registry
	if c.Registry.MaxSupply == 0 {
		errs = append(errs, "registry: max_supply must be > 0")
	}
	if _, ok := parseAmount(c.Registry.MintPrice); !ok {
		errs = append(errs, fmt.Sprintf("registry: mint_price %q is not a valid amount", c.Registry.MintPrice))
	}
	updateFee, feeOK := parseAmount(c.Registry.UpdateFee)
	if !feeOK {
		errs = append(errs, fmt.Sprintf("registry: update_fee %q is not a valid amount", c.Registry.UpdateFee))
	}
	if c.Registry.OwnerAddress == "" {
		errs = append(errs, "registry: owner_address must be set")
	} else if !common.IsHexAddress(c.Registry.OwnerAddress) {
		errs = append(errs, fmt.Sprintf("registry: owner_address %q is not a valid address", c.Registry.OwnerAddress))
	}
	if c.Registry.Account != "" && !common.IsHexAddress(c.Registry.Account) {
		errs = append(errs, fmt.Sprintf("registry: account %q is not a valid address", c.Registry.Account))
	}

	// Market
	if _, ok := parseAmount(c.Market.MinListingPrice); !ok {
		errs = append(errs, fmt.Sprintf("market: min_listing_price %q is not a valid amount", c.Market.MinListingPrice))
	}
	if c.Market.Account != "" && !common.IsHexAddress(c.Market.Account) {
		errs = append(errs, fmt.Sprintf("market: account %q is not a valid address", c.Market.Account))
	}

	// Oracle
	if c.Oracle.Address == "" {
		errs = append(errs, "oracle: address must be set")
	} else if !common.IsHexAddress(c.Oracle.Address) {
		errs = append(errs, fmt.Sprintf("oracle: address %q is not a valid address", c.Oracle.Address))
	}
	oracleFee, oracleOK := parseAmount(c.Oracle.Fee)
	if !oracleOK {
		errs = append(errs, fmt.Sprintf("oracle: fee %q is not a valid amount", c.Oracle.Fee))
	}
	if feeOK && oracleOK && updateFee.Cmp(oracleFee) < 0 {
		errs = append(errs, "registry: update_fee must be at least the oracle fee")
	}
	if c.Oracle.TreasuryAddress != "" && !common.IsHexAddress(c.Oracle.TreasuryAddress) {
		errs = append(errs, fmt.Sprintf("oracle: treasury_address %q is not a valid address", c.Oracle.TreasuryAddress))
	}
	if c.Oracle.CallbackSecret == "" && c.Oracle.EncryptedSecretPath == "" {
		errs = append(errs, "oracle: either callback_secret or encrypted_secret_path must be set")
	}
	if c.Oracle.EncryptedSecretPath != "" && c.Oracle.SecretPassword == "" {
		errs = append(errs, "oracle: secret_password is required when encrypted_secret_path is set")
	}
	if (c.Mode == "oracle" || c.Mode == "full") && c.Oracle.MetadataBaseURI == "" {
		errs = append(errs, "oracle: metadata_base_uri is required for mode "+c.Mode)
	}
	if c.Mode == "oracle" && c.Oracle.CallbackURL == "" {
		errs = append(errs, "oracle: callback_url is required for mode oracle")
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

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseAmount decodes a non-negative decimal amount string.
func parseAmount(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// Amount returns a config amount as a big.Int. Validate must have accepted
// the config first; an unparseable value yields zero.
func Amount(s string) *big.Int {
	n, ok := parseAmount(s)
	if !ok {
		return new(big.Int)
	}
	return n
}
