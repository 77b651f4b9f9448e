package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Registry.OwnerAddress = "0x0000000000000000000000000000000000000001"
	cfg.Oracle.Address = "0x0000000000000000000000000000000000000003"
	cfg.Oracle.CallbackSecret = "secret"
	return cfg
}

func TestValidateAcceptsDefaultsWithIdentities(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingIdentities(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner_address")
	assert.Contains(t, err.Error(), "oracle: address")
	assert.Contains(t, err.Error(), "callback_secret")
}

func TestValidateChecksAmounts(t *testing.T) {
	cfg := validConfig()
	cfg.Registry.MintPrice = "not-a-number"
	cfg.Market.MinListingPrice = "-5"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mint_price")
	assert.Contains(t, err.Error(), "min_listing_price")
}

func TestValidateEnforcesFeeOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Registry.UpdateFee = "5"
	cfg.Oracle.Fee = "10"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update_fee must be at least the oracle fee")
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "trade"`)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DORSIA_MODE", "oracle")
	t.Setenv("DORSIA_REGISTRY_MAX_SUPPLY", "42")
	t.Setenv("DORSIA_SERVER_CORS_ORIGINS", "https://dorsia.club, https://app.dorsia.club")
	t.Setenv("DORSIA_ORACLE_CALLBACK_SECRET", "env-secret")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "oracle", cfg.Mode)
	assert.Equal(t, uint64(42), cfg.Registry.MaxSupply)
	assert.Equal(t, []string{"https://dorsia.club", "https://app.dorsia.club"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "env-secret", cfg.Oracle.CallbackSecret)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-password"
	cfg.Redis.Password = "redis-password"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-key"

	red := RedactedConfig(&cfg)

	for _, s := range []string{
		red.Oracle.CallbackSecret,
		red.Postgres.Password,
		red.Redis.Password,
		red.S3.SecretKey,
		red.Server.APIKey,
	} {
		assert.Equal(t, "***", s)
	}

	// Original untouched.
	assert.Equal(t, "pg-password", cfg.Postgres.Password)
	assert.False(t, strings.Contains(cfg.Oracle.CallbackSecret, "*"))
}
