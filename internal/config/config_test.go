package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Chain.RPCURL = ""
	cfg.Chain.WETH = "not-an-address"
	cfg.Sync.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "rpc_url")
	assert.Contains(t, err.Error(), "weth")
	assert.Contains(t, err.Error(), "batch_size")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NFTAGG_CHAIN_RPC_URL", "https://rpc.example.com")
	t.Setenv("NFTAGG_SYNC_BATCH_SIZE", "64")
	t.Setenv("NFTAGG_SYNC_TX_CACHE_TTL", "1h")
	t.Setenv("NFTAGG_ARCHIVE_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "https://rpc.example.com", cfg.Chain.RPCURL)
	assert.Equal(t, uint64(64), cfg.Sync.BatchSize)
	assert.Equal(t, "1h0m0s", cfg.Sync.TxCacheTTL.Duration.String())
	assert.True(t, cfg.Archive.Enabled)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "hunter2"
	cfg.S3.SecretKey = "secret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "hunter2", cfg.Database.Password, "original untouched")
}
